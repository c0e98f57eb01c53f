package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventstream/internal/dispatch"
	"eventstream/internal/offsets"
	"eventstream/internal/protocol"
	"eventstream/internal/telemetry"
	"eventstream/source/kafka"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// scriptedConsumer returns its results in order, then cancels the run.
type scriptedConsumer struct {
	script    []kafka.PollResult
	cancel    context.CancelFunc
	commitErr error

	subscribed string
	commits    [][]offsets.Offset
	sync       []bool
	closed     int
}

func (c *scriptedConsumer) Configure(kafka.Config) error { return nil }
func (c *scriptedConsumer) Subscribe(topic string) error {
	c.subscribed = topic
	return nil
}
func (c *scriptedConsumer) Poll(context.Context, time.Duration) kafka.PollResult {
	if len(c.script) == 0 {
		c.cancel()
		return kafka.Timeout{}
	}
	res := c.script[0]
	c.script = c.script[1:]
	return res
}
func (c *scriptedConsumer) Commit(offs []offsets.Offset, synchronous bool) error {
	if c.commitErr != nil {
		return c.commitErr
	}
	c.commits = append(c.commits, offs)
	c.sync = append(c.sync, synchronous)
	return nil
}
func (c *scriptedConsumer) Close() error {
	c.closed++
	return nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []dispatch.Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t dispatch.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

func envelope(t *testing.T, eventID string) []byte {
	t.Helper()
	b, err := protocol.Encode(protocol.EventRecord{EventID: eventID, ProjectID: 1, PrimaryHash: "h"}, protocol.StateRecord{IsNew: true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

func msg(partition int32, offset int64, value []byte) *kafka.Message {
	return &kafka.Message{Topic: "events", Partition: partition, Offset: offset, Value: value}
}

func run(t *testing.T, batch int, c *scriptedConsumer, d dispatch.Dispatcher) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.cancel = cancel
	r, err := New(Options{
		ConsumerGroup:          "relay",
		CommitLogTopic:         "snuba-commit-log",
		SynchronizeCommitGroup: "snuba-consumers",
		CommitBatchSize:        batch,
		Topic:                  "events",
	}, func(group, commitLog, syncGroup string) (kafka.Adapter, error) {
		if group != "relay" || commitLog != "snuba-commit-log" || syncGroup != "snuba-consumers" {
			t.Fatalf("factory got %q %q %q", group, commitLog, syncGroup)
		}
		return c, nil
	}, d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = r.Run(ctx)
	if err == nil && r.State() != StateStopped {
		t.Fatalf("want stopped after graceful run, got %s", r.State())
	}
	return err
}

func TestRun_CommitsEveryBatchAndOnShutdown(t *testing.T) {
	c := &scriptedConsumer{}
	for i := int64(0); i < 7; i++ {
		c.script = append(c.script, msg(0, i, envelope(t, "e")))
	}
	d := &recordingDispatcher{}
	if err := run(t, 3, c, d); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if c.subscribed != "events" {
		t.Fatalf("subscribed to %q", c.subscribed)
	}
	want := []int64{3, 6, 7}
	if len(c.commits) != len(want) {
		t.Fatalf("want %d commits, got %d: %v", len(want), len(c.commits), c.commits)
	}
	for i, w := range want {
		if len(c.commits[i]) != 1 || c.commits[i][0] != (offsets.Offset{Topic: "events", Partition: 0, Offset: w}) {
			t.Fatalf("commit %d: want offset %d, got %v", i, w, c.commits[i])
		}
		if !c.sync[i] {
			t.Fatalf("commit %d was not synchronous", i)
		}
	}
	if len(d.tasks) != 7 {
		t.Fatalf("want 7 dispatched tasks, got %d", len(d.tasks))
	}
	if c.closed != 1 {
		t.Fatalf("consumer closed %d times", c.closed)
	}
}

func TestRun_TimeoutsAreNotCounted(t *testing.T) {
	c := &scriptedConsumer{script: []kafka.PollResult{
		msg(0, 0, envelope(t, "a")),
		kafka.Timeout{},
		kafka.Timeout{},
		msg(0, 1, envelope(t, "b")),
	}}
	if err := run(t, 2, c, &recordingDispatcher{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.commits) != 2 {
		t.Fatalf("want batch commit + final commit, got %v", c.commits)
	}
}

func TestRun_BatchCountsAcrossPartitions(t *testing.T) {
	c := &scriptedConsumer{script: []kafka.PollResult{
		msg(0, 10, envelope(t, "a")),
		msg(1, 4, envelope(t, "b")),
	}}
	if err := run(t, 2, c, &recordingDispatcher{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := c.commits[0]
	if len(first) != 2 || first[0].Offset != 11 || first[1].Offset != 5 {
		t.Fatalf("want both partitions in one commit, got %v", first)
	}
}

func TestRun_SkippedMessagesAdvanceOffsets(t *testing.T) {
	unknown := []byte(`[2,"insert",{},{}]`)
	deleted := []byte(`[1,"delete",{"event_id":"x"},{}]`)
	c := &scriptedConsumer{script: []kafka.PollResult{
		msg(0, 0, unknown),
		msg(0, 1, []byte("not json")),
		msg(0, 2, deleted),
		msg(0, 3, envelope(t, "ok")),
	}}
	d := &recordingDispatcher{}
	if err := run(t, 100, c, d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(d.tasks) != 1 || d.tasks[0].Event.EventID != "ok" {
		t.Fatalf("want only the valid envelope dispatched, got %+v", d.tasks)
	}
	if len(c.commits) != 1 || c.commits[0][0].Offset != 4 {
		t.Fatalf("final commit must cover skipped offsets, got %v", c.commits)
	}
}

func TestRun_NoFinalCommitWithoutMessages(t *testing.T) {
	c := &scriptedConsumer{script: []kafka.PollResult{kafka.Timeout{}}}
	if err := run(t, 3, c, &recordingDispatcher{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.commits) != 0 {
		t.Fatalf("unexpected commits %v", c.commits)
	}
	if c.closed != 1 {
		t.Fatal("consumer not closed")
	}
}

func TestRun_BrokerErrorIsFatalWithoutCommit(t *testing.T) {
	boom := errors.New("kafka: client has run out of available brokers")
	c := &scriptedConsumer{script: []kafka.PollResult{
		msg(0, 0, envelope(t, "a")),
		kafka.BrokerError{Err: boom},
		msg(0, 1, envelope(t, "b")),
	}}
	d := &recordingDispatcher{}
	err := run(t, 100, c, d)

	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != "poll" || !errors.Is(err, boom) {
		t.Fatalf("want fatal poll error wrapping broker error, got %v", err)
	}
	if len(c.commits) != 0 {
		t.Fatalf("fatal path must not commit, got %v", c.commits)
	}
	if c.closed != 1 {
		t.Fatal("consumer not closed on fatal path")
	}
	if len(d.tasks) != 1 {
		t.Fatalf("loop continued after broker error: %d tasks", len(d.tasks))
	}
}

func TestRun_DispatchErrorIsFatal(t *testing.T) {
	c := &scriptedConsumer{script: []kafka.PollResult{msg(0, 0, envelope(t, "a"))}}
	err := run(t, 100, c, &recordingDispatcher{err: errors.New("redis: connection refused")})
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != "dispatch" {
		t.Fatalf("want fatal dispatch error, got %v", err)
	}
}

func TestRun_CommitErrorIsFatal(t *testing.T) {
	c := &scriptedConsumer{commitErr: errors.New("kafka: rebalance in progress")}
	for i := int64(0); i < 2; i++ {
		c.script = append(c.script, msg(0, i, envelope(t, "e")))
	}
	err := run(t, 2, c, &recordingDispatcher{})
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != "commit" {
		t.Fatalf("want fatal commit error, got %v", err)
	}
}

func TestRun_CommitWithoutSessionIsNotCounted(t *testing.T) {
	c := &scriptedConsumer{commitErr: kafka.ErrNoSession}
	for i := int64(0); i < 3; i++ {
		c.script = append(c.script, msg(0, i, envelope(t, "e")))
	}
	batch := testutil.ToFloat64(telemetry.Commits.WithLabelValues("batch"))
	final := testutil.ToFloat64(telemetry.Commits.WithLabelValues("final"))

	if err := run(t, 2, c, &recordingDispatcher{}); err != nil {
		t.Fatalf("missing session must not be fatal: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.Commits.WithLabelValues("batch")) - batch; got != 0 {
		t.Fatalf("batch commit counted without session: %v", got)
	}
	if got := testutil.ToFloat64(telemetry.Commits.WithLabelValues("final")) - final; got != 0 {
		t.Fatalf("final commit counted without session: %v", got)
	}
	if c.closed != 1 {
		t.Fatalf("consumer closed %d times", c.closed)
	}
}

func TestNew_RejectsNonPositiveBatch(t *testing.T) {
	factory := func(string, string, string) (kafka.Adapter, error) { return &scriptedConsumer{}, nil }
	for _, n := range []int{0, -5} {
		if _, err := New(Options{CommitBatchSize: n}, factory, dispatch.Log{}); !errors.Is(err, ErrInvalidBatchSize) {
			t.Fatalf("batch %d: want ErrInvalidBatchSize, got %v", n, err)
		}
	}
}

func TestRun_FactoryErrorIsFatal(t *testing.T) {
	r, err := New(Options{CommitBatchSize: 1}, func(string, string, string) (kafka.Adapter, error) {
		return nil, errors.New("no brokers")
	}, dispatch.Log{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Run(context.Background()); err == nil || r.State() != StateFailed {
		t.Fatalf("want failed run, got err=%v state=%s", err, r.State())
	}
}
