// eventstream/sink/stdout/driver.go
package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"eventstream/sink"
)

/* ────────── config ────────── */
type Config struct {
	PrintValue    bool      `koanf:"print_value"`
	ValueMaxBytes int       `koanf:"value_max_bytes"` // 0 = unlimited
	Out           io.Writer `koanf:"-"`               // nil → os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	out io.Writer
	ack sink.DeliveryHandler

	mu      sync.Mutex // guards everything below
	pending []sink.Delivery
	next    map[string]int64 // fake offsets per topic
	closed  bool
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	d.out = c.Out
	if d.out == nil {
		d.out = os.Stdout
	}
	d.next = make(map[string]int64)
	return nil
}

func (d *driver) Produce(topic string, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return sink.ErrClosed
	}

	off := d.next[topic]
	d.next[topic] = off + 1

	if d.cfg.PrintValue {
		v := value
		if n := d.cfg.ValueMaxBytes; n > 0 && len(v) > n {
			v = v[:n]
		}
		fmt.Fprintf(d.out, "[sink] %s[0]@%d key=%s value=%s\n", topic, off, key, v)
	} else {
		fmt.Fprintf(d.out, "[sink] %s[0]@%d key=%s\n", topic, off, key)
	}

	d.pending = append(d.pending, sink.Delivery{Topic: topic, Offset: off, Key: key, Value: value})
	return nil
}

// Poll acks everything printed so far; deliveries to stdout cannot fail.
func (d *driver) Poll(time.Duration) int {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if d.ack != nil {
		for _, dl := range batch {
			d.ack(dl)
		}
	}
	return len(batch)
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Poll(0)
	return nil
}

/* ────────── sink.DeliveryAware ────────── */
func (d *driver) BindDelivery(fn sink.DeliveryHandler) { d.ack = fn }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
