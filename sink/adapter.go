package sink

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueFull is returned by Produce when the local send queue cannot
	// take another message.
	ErrQueueFull = errors.New("sink: local send queue is full")
	ErrClosed    = errors.New("sink: producer is closed")
)

// Delivery is the outcome of one produced message, reported asynchronously.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Err       error
}

// DeliveryHandler is invoked by a driver while it serves delivery reports
// inside Poll, never by application call sites.
type DeliveryHandler func(Delivery)

// Adapter is the log-producing client every driver exposes. Produce must not
// block on durability; it only accepts the message for sending.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Produce(topic string, key, value []byte) error
	// Poll serves pending delivery reports, waiting at most timeout for the
	// first one, and returns how many were served. Poll(0) never blocks.
	Poll(timeout time.Duration) int
	Close() error // flushes, idempotent
}

// DeliveryAware is *optional*; drivers that report deliveries implement it.
type DeliveryAware interface {
	BindDelivery(DeliveryHandler)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
