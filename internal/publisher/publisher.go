// Package publisher puts application events on the events log.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventstream/internal/logging"
	"eventstream/internal/protocol"
	"eventstream/internal/quota"
	"eventstream/internal/telemetry"
	"eventstream/sink"
)

// DefaultTopic is where events go when Options.Topic is empty.
const DefaultTopic = "events"

// Event is what the write path hands over. Retention is not part of it; the
// publisher resolves it per organization.
type Event struct {
	GroupID        int64
	EventID        string
	OrganizationID int64
	ProjectID      int64
	Message        string
	Platform       string
	Datetime       time.Time
	Data           map[string]any
}

type Options struct {
	Topic    string
	Resolver quota.Resolver

	// NewProducer builds the producing client. It runs once, on the first
	// Publish.
	NewProducer func() (sink.Adapter, error)

	// DrainInterval > 0 lets RunDrainLoop serve delivery reports on a timer
	// instead of only ahead of each Publish.
	DrainInterval time.Duration
	FlushTimeout  time.Duration
}

// Publisher is safe for concurrent use. It adds no locking around the
// producer; drivers are goroutine-safe.
type Publisher struct {
	opts Options

	mu     sync.Mutex // guards built and closed, held while building
	built  sink.Adapter
	closed bool
}

func New(opts Options) (*Publisher, error) {
	if opts.NewProducer == nil {
		return nil, errors.New("publisher: NewProducer is required")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Resolver == nil {
		opts.Resolver = quota.Static{Days: quota.DefaultRetentionDays}
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	return &Publisher{opts: opts}, nil
}

// producer returns the shared client, building it on first use. A failed
// build is not cached; the next call tries again.
func (p *Publisher) producer() (sink.Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, sink.ErrClosed
	}
	if p.built != nil {
		return p.built, nil
	}
	prod, err := p.opts.NewProducer()
	if err != nil {
		return nil, fmt.Errorf("publisher: build producer: %w", err)
	}
	if da, ok := prod.(sink.DeliveryAware); ok {
		da.BindDelivery(onDelivery)
	}
	p.built = prod
	logging.L().Info("publisher: producer ready", "topic", p.opts.Topic)
	return prod, nil
}

// Publish resolves retention, encodes the envelope and enqueues it. A nil
// error means the message was accepted for sending, not that it is durable.
func (p *Publisher) Publish(ctx context.Context, ev Event, state protocol.StateRecord, primaryHash string) error {
	days, err := p.opts.Resolver.RetentionDays(ctx, ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("publisher: retention for organization %d: %w", ev.OrganizationID, err)
	}
	key := fmt.Sprintf("%d:%s", ev.ProjectID, ev.EventID)
	prod, err := p.producer()
	if err != nil {
		return p.failed(key, err)
	}
	prod.Poll(0)

	value, err := protocol.Encode(protocol.EventRecord{
		GroupID:        ev.GroupID,
		EventID:        ev.EventID,
		OrganizationID: ev.OrganizationID,
		ProjectID:      ev.ProjectID,
		Message:        ev.Message,
		Platform:       ev.Platform,
		Datetime:       ev.Datetime,
		Data:           ev.Data,
		PrimaryHash:    primaryHash,
		RetentionDays:  days,
	}, state)
	if err != nil {
		return p.failed(key, err)
	}
	if err := prod.Produce(p.opts.Topic, []byte(key), value); err != nil {
		return p.failed(key, err)
	}
	telemetry.Published.WithLabelValues("accepted").Inc()
	return nil
}

func (p *Publisher) failed(key string, err error) error {
	telemetry.Published.WithLabelValues("rejected").Inc()
	logging.L().Warn("publisher: could not publish message", "topic", p.opts.Topic, "key", key, "err", err)
	return &PublishError{Topic: p.opts.Topic, Key: key, Err: err}
}

// RunDrainLoop serves delivery reports every DrainInterval until ctx is done.
// It returns at once when DrainInterval is not set.
func (p *Publisher) RunDrainLoop(ctx context.Context) {
	if p.opts.DrainInterval <= 0 {
		return
	}
	t := time.NewTicker(p.opts.DrainInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if prod := p.current(); prod != nil {
				prod.Poll(0)
			}
		}
	}
}

func (p *Publisher) current() sink.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.built
}

// Close flushes outstanding deliveries and closes the producer if one was
// built. It is idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	prod := p.built
	already := p.closed
	p.closed = true
	p.mu.Unlock()
	if already || prod == nil {
		return nil
	}
	prod.Poll(p.opts.FlushTimeout)
	return prod.Close()
}

func onDelivery(d sink.Delivery) {
	if d.Err == nil {
		return
	}
	telemetry.DeliveryFailures.Inc()
	logging.L().Warn("publisher: could not publish message",
		"topic", d.Topic,
		"key", string(d.Key),
		"value", string(d.Value),
		"err", d.Err)
}
