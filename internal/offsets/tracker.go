// Package offsets tracks consumption progress per topic partition.
package offsets

import (
	"cmp"
	"fmt"
	"slices"
)

// Key addresses one partition of one topic.
type Key struct {
	Topic     string
	Partition int32
}

func (k Key) String() string { return fmt.Sprintf("%s[%d]", k.Topic, k.Partition) }

// Offset is a commit entry: the offset to resume from for a partition.
type Offset struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Tracker maps partitions to the next offset to commit, one past the last
// message read. It is owned by a single goroutine and does no locking.
type Tracker struct {
	next map[Key]int64
}

func NewTracker() *Tracker { return &Tracker{next: make(map[Key]int64)} }

// Advance records that the message at offset was read. Stored values never
// decrease; an older offset is ignored and Advance reports false.
func (t *Tracker) Advance(topic string, partition int32, offset int64) bool {
	k := Key{Topic: topic, Partition: partition}
	next := offset + 1
	if cur, ok := t.next[k]; ok && cur >= next {
		return false
	}
	t.next[k] = next
	return true
}

// Next returns the tracked resume offset for a partition.
func (t *Tracker) Next(topic string, partition int32) (int64, bool) {
	v, ok := t.next[Key{Topic: topic, Partition: partition}]
	return v, ok
}

func (t *Tracker) Len() int { return len(t.next) }

// Snapshot returns every tracked entry ordered by topic, then partition.
func (t *Tracker) Snapshot() []Offset {
	out := make([]Offset, 0, len(t.next))
	for k, v := range t.next {
		out = append(out, Offset{Topic: k.Topic, Partition: k.Partition, Offset: v})
	}
	slices.SortFunc(out, func(a, b Offset) int {
		if c := cmp.Compare(a.Topic, b.Topic); c != 0 {
			return c
		}
		return cmp.Compare(a.Partition, b.Partition)
	})
	return out
}
