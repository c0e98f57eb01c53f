package engine

import (
	"context"
	"errors"
	"fmt"

	"eventstream/internal/config"
	"eventstream/internal/dispatch"
	"eventstream/internal/logging"
	"eventstream/internal/publisher"
	"eventstream/internal/quota"
	"eventstream/internal/relay"
	"eventstream/internal/transport"
	"eventstream/sink"
	"eventstream/source/kafka"
)

// Bootstrap builds the relay and its servers from cfg. Nothing runs until
// Run.
func Bootstrap(cfg config.Config) (*Engine, error) {
	rc := cfg.Relay
	if rc.ConsumerGroup == "" || rc.CommitLogTopic == "" || rc.SynchronizeCommitGroup == "" {
		return nil, errors.New("engine: consumer group, commit log topic and synchronize commit group are required")
	}

	// 1. post-process queue
	d, closeDispatch, err := NewDispatcher(cfg.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	// 2. relay
	r, err := relay.New(relay.Options{
		ConsumerGroup:          rc.ConsumerGroup,
		CommitLogTopic:         rc.CommitLogTopic,
		SynchronizeCommitGroup: rc.SynchronizeCommitGroup,
		CommitBatchSize:        rc.CommitBatchSize,
		Topic:                  cfg.Publisher.Topic,
		PollTimeout:            rc.PollTimeout,
	}, ConsumerFactory(cfg), d)
	if err != nil {
		_ = closeDispatch()
		return nil, fmt.Errorf("relay: %w", err)
	}

	// 3. health transport
	srv, err := transport.StartServer(cfg.Admin.GRPCAddr)
	if err != nil {
		_ = closeDispatch()
		return nil, fmt.Errorf("transport: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		relay:     r,
		transport: srv,
		closers:   []func() error{closeDispatch},
	}, nil
}

// ConsumerFactory builds the configured synchronized consumer for one relay
// run, on the shared kafka cluster settings.
func ConsumerFactory(cfg config.Config) relay.ConsumerFactory {
	return func(group, commitLogTopic, syncGroup string) (kafka.Adapter, error) {
		src, err := kafka.NewAdapter(cfg.Relay.Driver)
		if err != nil {
			return nil, err
		}
		kc := cfg.Kafka
		kc.ConsumerGroup = group
		kc.CommitLogTopic = commitLogTopic
		kc.SynchronizeCommitGroup = syncGroup
		if err := src.Configure(kc); err != nil {
			return nil, err
		}
		return src, nil
	}
}

// ProducerFactory builds the configured producing client. The publisher
// calls it lazily.
func ProducerFactory(pc config.PublisherConfig) func() (sink.Adapter, error) {
	return func() (sink.Adapter, error) {
		drv, err := sink.NewAdapter(pc.Driver)
		if err != nil {
			return nil, err
		}
		var dc any
		switch pc.Driver {
		case "kafka":
			dc = pc.Sarama
		case "kafka-go":
			dc = pc.KafkaGo
		case "stdout":
			dc = pc.Stdout
		default:
			return nil, fmt.Errorf("no config block for sink %q", pc.Driver)
		}
		if err := drv.Configure(dc); err != nil {
			return nil, err
		}
		return drv, nil
	}
}

func NewDispatcher(dc config.DispatchConfig) (dispatch.Dispatcher, func() error, error) {
	switch dc.Driver {
	case "redis":
		q := dispatch.NewRedisQueue(dc.Redis)
		return q, q.Close, nil
	case "log", "":
		return dispatch.Log{}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dispatcher %q", dc.Driver)
	}
}

// NewResolver returns the retention lookup: Postgres behind an LRU when a DSN
// is configured, a static default otherwise.
func NewResolver(ctx context.Context, qc config.QuotaConfig) (quota.Resolver, func(), error) {
	if qc.PostgresDSN == "" {
		return quota.Static{Days: qc.DefaultRetentionDays}, func() {}, nil
	}
	pool, err := quota.Connect(ctx, qc.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := quota.NewPostgres(pool, qc.DefaultRetentionDays)
	if qc.QueryTimeout > 0 {
		pg.Timeout = qc.QueryTimeout
	}
	return quota.NewCached(pg, qc.CacheSize, qc.CacheTTL), pool.Close, nil
}

// NewPublisher wires a publisher to the configured producer and resolver.
// The returned close func flushes the producer and releases the resolver.
func NewPublisher(ctx context.Context, cfg config.Config) (*publisher.Publisher, func(), error) {
	res, closeResolver, err := NewResolver(ctx, cfg.Quota)
	if err != nil {
		return nil, nil, fmt.Errorf("quota: %w", err)
	}
	p, err := publisher.New(publisher.Options{
		Topic:         cfg.Publisher.Topic,
		Resolver:      res,
		NewProducer:   ProducerFactory(cfg.Publisher),
		DrainInterval: cfg.Publisher.DrainInterval,
		FlushTimeout:  cfg.Publisher.FlushTimeout,
	})
	if err != nil {
		closeResolver()
		return nil, nil, err
	}
	stopDrain := func() {}
	if cfg.Publisher.DrainInterval > 0 {
		drainCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.RunDrainLoop(drainCtx)
		}()
		stopDrain = func() {
			cancel()
			<-done
		}
	}
	return p, func() {
		stopDrain()
		if err := p.Close(); err != nil {
			logging.L().Warn("publisher: close", "err", err)
		}
		closeResolver()
	}, nil
}
