package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventstream/internal/offsets"

	"github.com/IBM/sarama"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx     context.Context
	marked  []offsets.Offset
	commits int
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.marked = append(s.marked, offsets.Offset{Topic: topic, Partition: partition, Offset: offset})
}
func (s *fakeSession) Commit()                    { s.commits++ }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{"events": {0}} }

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func newTestDriver() *SaramaDriver {
	d := &SaramaDriver{}
	d.init(Config{ConsumerGroup: "relay", CommitLogTopic: "commits", SynchronizeCommitGroup: "snuba", Buffer: 8})
	d.topic = "events"
	return d
}

func TestCommit_KeyValueRoundTrip(t *testing.T) {
	c := Commit{Topic: "events", Partition: 3, Group: "snuba:consumers", Offset: 120}
	got, err := ParseCommit(c.Key(), c.Value())
	if err != nil {
		t.Fatalf("ParseCommit: %v", err)
	}
	if got != c {
		t.Fatalf("want %+v, got %+v", c, got)
	}
	if string(c.Key()) != "events:3:snuba:consumers" || string(c.Value()) != "120" {
		t.Fatalf("unexpected record %s=%s", c.Key(), c.Value())
	}
}

func TestParseCommit_Malformed(t *testing.T) {
	for _, kv := range [][2]string{{"events:1", "5"}, {"events:x:g", "5"}, {"events:1:g", "five"}, {":1:g", "5"}} {
		if _, err := ParseCommit([]byte(kv[0]), []byte(kv[1])); err == nil {
			t.Fatalf("expected error for %q=%q", kv[0], kv[1])
		}
	}
}

func TestObserveCommit_FiltersGroupAndTopic(t *testing.T) {
	d := newTestDriver()
	d.observeCommit([]byte("events:0:other"), []byte("50"))
	d.observeCommit([]byte("transactions:0:snuba"), []byte("50"))
	if _, ok := d.marks.Get(0); ok {
		t.Fatal("watermark advanced by unrelated record")
	}
	d.observeCommit([]byte("events:0:snuba"), []byte("10"))
	d.observeCommit([]byte("events:0:snuba"), []byte("7"))
	if got, _ := d.marks.Get(0); got != 10 {
		t.Fatalf("watermark must not regress: want 10, got %d", got)
	}
}

func TestConsumeClaim_HoldsUntilRemoteCommitted(t *testing.T) {
	d := newTestDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 2)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "events", Partition: 0, Offset: 5, Value: []byte("a")}

	done := make(chan error, 1)
	go func() { done <- (&groupHandler{driver: d}).ConsumeClaim(sess, claim) }()

	if res := d.Poll(context.Background(), 50*time.Millisecond); res != (Timeout{}) {
		t.Fatalf("message released before remote commit: %#v", res)
	}

	d.observeCommit([]byte("events:0:snuba"), []byte("5"))
	if res := d.Poll(context.Background(), 50*time.Millisecond); res != (Timeout{}) {
		t.Fatalf("remote offset 5 does not cover message 5: %#v", res)
	}

	d.observeCommit([]byte("events:0:snuba"), []byte("6"))
	res := d.Poll(context.Background(), time.Second)
	m, ok := res.(*Message)
	if !ok || m.Offset != 5 || string(m.Value) != "a" {
		t.Fatalf("want message at offset 5, got %#v", res)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConsumeClaim: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop with the session")
	}
}

func TestCommit_MarksAndFlushesOnSession(t *testing.T) {
	d := newTestDriver()
	sess := &fakeSession{ctx: context.Background()}
	h := &groupHandler{driver: d}
	_ = h.Setup(sess)

	offs := []offsets.Offset{{Topic: "events", Partition: 0, Offset: 4}, {Topic: "events", Partition: 1, Offset: 9}}
	if err := d.Commit(offs, false); err != nil {
		t.Fatalf("Commit async: %v", err)
	}
	if sess.commits != 0 || len(sess.marked) != 2 {
		t.Fatalf("async commit must only mark: commits=%d marked=%d", sess.commits, len(sess.marked))
	}
	if err := d.Commit(offs, true); err != nil {
		t.Fatalf("Commit sync: %v", err)
	}
	if sess.commits != 1 {
		t.Fatalf("want one flush, got %d", sess.commits)
	}

	_ = h.Cleanup(sess)
	if err := d.Commit(offs, true); !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession without session, got %v", err)
	}
	if sess.commits != 1 {
		t.Fatal("commit reached an ended session")
	}
}

func TestPoll_BrokerError(t *testing.T) {
	d := newTestDriver()
	boom := errors.New("kafka: client has run out of available brokers")
	d.fail(boom)
	res := d.Poll(context.Background(), time.Second)
	be, ok := res.(BrokerError)
	if !ok || !errors.Is(be, boom) {
		t.Fatalf("want BrokerError wrapping %v, got %#v", boom, res)
	}
}

func TestPoll_ContextDoneReturnsTimeout(t *testing.T) {
	d := newTestDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if res := d.Poll(ctx, time.Minute); res != (Timeout{}) {
		t.Fatalf("want Timeout, got %#v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Poll ignored cancelled context")
	}
}

func TestConfigure_RequiresGroups(t *testing.T) {
	if err := (&SaramaDriver{}).Configure(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error without relay groups")
	}
}
