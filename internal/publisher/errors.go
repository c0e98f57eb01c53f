package publisher

import "fmt"

// PublishError is returned when the producer did not accept a message. The
// caller decides whether to retry or drop.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publisher: %s key=%s: %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
