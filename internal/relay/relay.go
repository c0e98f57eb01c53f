// Package relay moves envelopes from the events topic to post-processing and
// commits consumption progress in batches.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"eventstream/internal/dispatch"
	"eventstream/internal/logging"
	"eventstream/internal/offsets"
	"eventstream/internal/protocol"
	"eventstream/internal/telemetry"
	"eventstream/source/kafka"
)

const (
	DefaultCommitBatchSize = 100
	DefaultPollTimeout     = 100 * time.Millisecond
)

type Options struct {
	ConsumerGroup          string
	CommitLogTopic         string
	SynchronizeCommitGroup string
	// CommitBatchSize is how many consumed messages, across all partitions,
	// trigger a synchronous commit. It must be positive.
	CommitBatchSize int
	Topic           string
	PollTimeout     time.Duration
}

// ConsumerFactory builds the synchronized consumer for one run.
type ConsumerFactory func(consumerGroup, commitLogTopic, synchronizeCommitGroup string) (kafka.Adapter, error)

// Relay is single-threaded: Run owns the consumer and the tracker, and Poll is
// its only suspension point.
type Relay struct {
	opts        Options
	newConsumer ConsumerFactory
	dispatcher  dispatch.Dispatcher

	state atomic.Int32
}

func New(opts Options, newConsumer ConsumerFactory, d dispatch.Dispatcher) (*Relay, error) {
	if opts.CommitBatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if opts.Topic == "" {
		opts.Topic = "events"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if newConsumer == nil || d == nil {
		return nil, errors.New("relay: consumer factory and dispatcher are required")
	}
	return &Relay{opts: opts, newConsumer: newConsumer, dispatcher: d}, nil
}

func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) set(s State) { r.state.Store(int32(s)) }

// Run consumes until ctx is cancelled or a fatal error occurs. Cancellation
// is the graceful path: pending offsets get one last synchronous commit and
// Run returns nil. Any other exit returns a *FatalError.
func (r *Relay) Run(ctx context.Context) error {
	log := logging.L().With("group", r.opts.ConsumerGroup, "topic", r.opts.Topic)

	consumer, err := r.newConsumer(r.opts.ConsumerGroup, r.opts.CommitLogTopic, r.opts.SynchronizeCommitGroup)
	if err != nil {
		r.set(StateFailed)
		return &FatalError{Op: "subscribe", Err: err}
	}
	if err := consumer.Subscribe(r.opts.Topic); err != nil {
		r.set(StateFailed)
		_ = consumer.Close()
		return &FatalError{Op: "subscribe", Err: err}
	}

	tracker := offsets.NewTracker()
	batch, err := offsets.NewBatcher(r.opts.CommitBatchSize)
	if err != nil {
		return r.fail(consumer, "subscribe", err)
	}
	log.Info("relay: started", "commit_batch_size", r.opts.CommitBatchSize)

	for ctx.Err() == nil {
		r.set(StatePolling)
		switch res := consumer.Poll(ctx, r.opts.PollTimeout).(type) {
		case kafka.Timeout:
			continue
		case kafka.BrokerError:
			return r.fail(consumer, "poll", res)
		case *kafka.Message:
			r.set(StateProcessing)
			telemetry.Consumed.Inc()
			tracker.Advance(res.Topic, res.Partition, res.Offset)
			if err := r.handle(ctx, res); err != nil {
				return r.fail(consumer, "dispatch", err)
			}
			if batch.Observe() {
				if err := r.commit(consumer, tracker, "batch"); err != nil {
					return r.fail(consumer, "commit", err)
				}
			}
		}
	}

	r.set(StateClosing)
	log.Info("relay: committing offsets and closing consumer", "consumed", batch.Consumed())
	if tracker.Len() > 0 {
		if err := r.commit(consumer, tracker, "final"); err != nil {
			return r.fail(consumer, "commit", err)
		}
	}
	if err := consumer.Close(); err != nil {
		log.Warn("relay: consumer close", "err", err)
	}
	r.set(StateStopped)
	return nil
}

// handle decodes one message and enqueues its post-process task. Skipped
// messages are not an error; their offset still counts as consumed.
func (r *Relay) handle(ctx context.Context, m *kafka.Message) error {
	env, err := protocol.Decode(m.Value)
	if err != nil {
		var skip *protocol.SkipError
		if errors.As(err, &skip) {
			telemetry.Skipped.WithLabelValues(string(skip.Reason)).Inc()
			logging.L().Debug("relay: skipping message",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "reason", skip.Reason, "version", skip.Version)
			return nil
		}
		return err
	}
	// a shutdown must not abort an enqueue already underway
	if err := r.dispatcher.Dispatch(context.WithoutCancel(ctx), dispatch.NewTask(env)); err != nil {
		return fmt.Errorf("event %s: %w", env.Event.EventID, err)
	}
	telemetry.Dispatched.Inc()
	return nil
}

func (r *Relay) commit(consumer kafka.Adapter, tracker *offsets.Tracker, kind string) error {
	r.set(StateCommitting)
	offs := tracker.Snapshot()
	if err := consumer.Commit(offs, true); err != nil {
		if errors.Is(err, kafka.ErrNoSession) {
			logging.L().Warn("relay: offsets not committed, no consumer group session", "kind", kind, "partitions", len(offs))
			return nil
		}
		return err
	}
	telemetry.Commits.WithLabelValues(kind).Inc()
	for _, o := range offs {
		telemetry.CommittedOffset.WithLabelValues(o.Topic, strconv.Itoa(int(o.Partition))).Set(float64(o.Offset))
	}
	logging.L().Debug("relay: committed", "kind", kind, "partitions", len(offs))
	return nil
}

func (r *Relay) fail(consumer kafka.Adapter, op string, err error) error {
	r.set(StateFailed)
	logging.L().Error("relay: stopping on fatal error", "op", op, "err", err)
	if cerr := consumer.Close(); cerr != nil {
		logging.L().Warn("relay: consumer close", "err", cerr)
	}
	return &FatalError{Op: op, Err: err}
}
