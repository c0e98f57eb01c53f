package engine

import (
	"context"
	"time"

	"eventstream/internal/config"
	"eventstream/internal/logging"
	"eventstream/internal/relay"
	"eventstream/internal/telemetry"
	"eventstream/internal/transport"

	"golang.org/x/sync/errgroup"
)

const healthSyncInterval = time.Second

type Engine struct {
	cfg       config.Config
	relay     *relay.Relay
	transport *transport.Server
	closers   []func() error
}

// Run drives the relay alongside the admin HTTP and gRPC health servers. The
// servers stop once the relay returns; the relay stops when ctx is cancelled
// or either server fails.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return e.relay.Run(gctx)
	})
	g.Go(func() error {
		return telemetry.Serve(gctx, e.cfg.Admin.HTTPAddr, telemetry.NewRouter(e.healthy))
	})
	g.Go(func() error { return e.transport.Serve() })
	g.Go(func() error {
		e.syncHealth(gctx, healthSyncInterval)
		e.transport.Stop()
		return nil
	})

	err := g.Wait()
	for _, c := range e.closers {
		if cerr := c(); cerr != nil {
			logging.L().Warn("engine: close", "err", cerr)
		}
	}
	return err
}

func (e *Engine) healthy() bool {
	switch e.relay.State() {
	case relay.StatePolling, relay.StateProcessing, relay.StateCommitting:
		return true
	}
	return false
}

// syncHealth mirrors the relay state into the gRPC health service until ctx
// is done.
func (e *Engine) syncHealth(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		e.transport.SetServing(transport.RelayService, e.healthy())
		select {
		case <-ctx.Done():
			e.transport.SetServing(transport.RelayService, false)
			return
		case <-t.C:
		}
	}
}
