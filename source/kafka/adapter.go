package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventstream/internal/offsets"
)

// PollResult is one of Timeout, *Message or BrokerError.
type PollResult interface{ pollResult() }

// Timeout means no message arrived within the poll timeout. It is not an
// error.
type Timeout struct{}

type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// BrokerError is a failure reported by the broker or the client. The relay
// treats it as fatal.
type BrokerError struct {
	Err error
}

func (e BrokerError) Error() string { return fmt.Sprintf("kafka: broker error: %v", e.Err) }
func (e BrokerError) Unwrap() error { return e.Err }

func (Timeout) pollResult()     {}
func (*Message) pollResult()    {}
func (BrokerError) pollResult() {}

// ErrNoSession is returned by Commit while no consumer group session is
// live, typically mid rebalance. Nothing was committed.
var ErrNoSession = errors.New("kafka: no active consumer group session")

// Adapter is a synchronized consumer: commits on the subscribed topic never
// run ahead of the point a second consumer group has reached, as published
// on a shared commit-log topic.
type Adapter interface {
	Configure(Config) error
	Subscribe(topic string) error
	// Poll waits at most timeout, or until ctx is done, for the next result.
	Poll(ctx context.Context, timeout time.Duration) PollResult
	Commit(offsets []offsets.Offset, synchronous bool) error
	Close() error
}
