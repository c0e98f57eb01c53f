// Package kafkago is a sink driver backed by segmentio/kafka-go.
//
// The Writer runs in async mode. Completions are parked in a bounded report
// queue and only handed to the delivery handler from Poll, so callback
// latency follows the caller's poll cadence the same way it does for the
// sarama driver. A message counts against QueueCapacity from Produce until
// its report has been served.
package kafkago

import (
	"context"
	"fmt"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"eventstream/sink"
)

type Config struct {
	Brokers       []string      `koanf:"brokers"`
	Acks          int16         `koanf:"required_acks"` // 0,1,-1
	QueueCapacity int           `koanf:"queue_capacity"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
}

// messageWriter is the subset of *kgo.Writer the driver uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type driver struct {
	w       messageWriter
	slots   chan struct{}
	reports chan sink.Delivery

	onDelivery sink.DeliveryHandler

	mu     sync.RWMutex
	closed bool
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-go-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka-go-sink: no brokers configured")
	}
	d.init(cfg.QueueCapacity)
	d.w = &kgo.Writer{
		Addr:         kgo.TCP(cfg.Brokers...),
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequiredAcks(cfg.Acks),
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion:   d.complete,
	}
	return nil
}

func (d *driver) init(capacity int) {
	if capacity <= 0 {
		capacity = 10_000
	}
	d.slots = make(chan struct{}, capacity)
	d.reports = make(chan sink.Delivery, capacity)
}

func (d *driver) BindDelivery(fn sink.DeliveryHandler) { d.onDelivery = fn }

func (d *driver) Produce(topic string, key, value []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return sink.ErrClosed
	}
	select {
	case d.slots <- struct{}{}:
	default:
		return sink.ErrQueueFull
	}
	// async writers return immediately; only argument and state errors surface here
	if err := d.w.WriteMessages(context.Background(), kgo.Message{Topic: topic, Key: key, Value: value}); err != nil {
		<-d.slots
		return err
	}
	return nil
}

// complete runs on writer goroutines. It never blocks: every in-flight
// message holds a slot, so reports has room for all of them.
func (d *driver) complete(msgs []kgo.Message, err error) {
	for _, m := range msgs {
		d.reports <- sink.Delivery{
			Topic:     m.Topic,
			Partition: int32(m.Partition),
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Err:       err,
		}
	}
}

func (d *driver) Poll(timeout time.Duration) int {
	n := 0
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case dl := <-d.reports:
			d.serve(dl)
			n++
		case <-t.C:
			return 0
		}
	}
	for {
		select {
		case dl := <-d.reports:
			d.serve(dl)
			n++
		default:
			return n
		}
	}
}

func (d *driver) serve(dl sink.Delivery) {
	<-d.slots
	if d.onDelivery != nil {
		d.onDelivery(dl)
	}
}

// Close flushes the writer, which fires the pending completions, then serves
// every report still queued.
func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.w.Close()
	d.Poll(0)
	return err
}

func init() { sink.Register("kafka-go", func() sink.Adapter { return &driver{} }) }
