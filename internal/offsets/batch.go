package offsets

import "errors"

var ErrInvalidBatchSize = errors.New("offsets: commit batch size must be a positive integer")

// Batcher decides *when* the relay flushes its tracker: once for every size
// consumed messages, counted across all partitions.
type Batcher struct {
	size     int
	consumed int64
}

func NewBatcher(size int) (*Batcher, error) {
	if size <= 0 {
		return nil, ErrInvalidBatchSize
	}
	return &Batcher{size: size}, nil
}

// Observe counts one consumed message and reports whether a commit is due.
func (b *Batcher) Observe() (shouldCommit bool) {
	b.consumed++
	return b.consumed%int64(b.size) == 0
}

func (b *Batcher) Consumed() int64 { return b.consumed }
