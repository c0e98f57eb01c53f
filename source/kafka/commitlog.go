package kafka

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Commit is one record of the commit-log topic: group has committed offset
// (the next offset it will read) for topic[partition].
//
// Record key is "{topic}:{partition}:{group}", value the offset in ASCII.
// Topic names cannot contain ':', group names can, so the group goes last.
type Commit struct {
	Topic     string
	Partition int32
	Group     string
	Offset    int64
}

func (c Commit) Key() []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", c.Topic, c.Partition, c.Group))
}

func (c Commit) Value() []byte { return strconv.AppendInt(nil, c.Offset, 10) }

func ParseCommit(key, value []byte) (Commit, error) {
	parts := bytes.SplitN(key, []byte(":"), 3)
	if len(parts) != 3 || len(parts[0]) == 0 || len(parts[2]) == 0 {
		return Commit{}, fmt.Errorf("kafka: malformed commit log key %q", key)
	}
	partition, err := strconv.ParseInt(string(parts[1]), 10, 32)
	if err != nil {
		return Commit{}, fmt.Errorf("kafka: commit log partition %q: %w", parts[1], err)
	}
	offset, err := strconv.ParseInt(string(bytes.TrimSpace(value)), 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("kafka: commit log offset %q: %w", value, err)
	}
	return Commit{
		Topic:     string(parts[0]),
		Partition: int32(partition),
		Group:     string(parts[2]),
		Offset:    offset,
	}, nil
}

// watermarks holds the highest offset the synchronize-commit group has
// committed per partition of the followed topic.
type watermarks struct {
	mu      sync.Mutex
	remote  map[int32]int64
	changed chan struct{}
}

func newWatermarks() *watermarks {
	return &watermarks{remote: make(map[int32]int64), changed: make(chan struct{})}
}

// Advance raises the watermark for partition; lower values are ignored.
func (w *watermarks) Advance(partition int32, offset int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.remote[partition]; ok && cur >= offset {
		return
	}
	w.remote[partition] = offset
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *watermarks) Get(partition int32) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.remote[partition]
	return v, ok
}

// Wait blocks until the message at offset on partition has been committed by
// the remote group, that is until the watermark is past offset.
func (w *watermarks) Wait(ctx context.Context, partition int32, offset int64) error {
	for {
		w.mu.Lock()
		cur, ok := w.remote[partition]
		ch := w.changed
		w.mu.Unlock()
		if ok && offset < cur {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
