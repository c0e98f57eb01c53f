package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventstream/internal/logging"
	"eventstream/internal/offsets"

	"github.com/IBM/sarama"
)

// SaramaDriver consumes the subscribed topic as a member of ConsumerGroup and
// follows CommitLogTopic. A message is only released to Poll once
// SynchronizeCommitGroup has committed past it.
type SaramaDriver struct {
	cfg      Config
	cl       sarama.Client
	group    sarama.ConsumerGroup
	follower sarama.Consumer

	marks    *watermarks
	messages chan *Message
	errs     chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	sess  sarama.ConsumerGroupSession
	topic string

	closeOnce sync.Once
}

func (d *SaramaDriver) Configure(config Config) error {
	if config.ConsumerGroup == "" || config.CommitLogTopic == "" || config.SynchronizeCommitGroup == "" {
		return errors.New("sarama-driver: consumer group, commit log topic and synchronize commit group are required")
	}
	d.init(config)

	sc := sarama.NewConfig()
	if config.Version != "" {
		ver, err := sarama.ParseKafkaVersion(config.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}
	if config.ClientID != "" {
		sc.ClientID = config.ClientID
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	var err error
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(config.ConsumerGroup, d.cl); err != nil {
		_ = d.cl.Close()
		return err
	}
	if d.follower, err = sarama.NewConsumerFromClient(d.cl); err != nil {
		_ = d.group.Close()
		_ = d.cl.Close()
		return err
	}
	return nil
}

func (d *SaramaDriver) init(config Config) {
	d.cfg = config
	if d.cfg.Buffer <= 0 {
		d.cfg.Buffer = 256
	}
	d.marks = newWatermarks()
	d.messages = make(chan *Message, d.cfg.Buffer)
	d.errs = make(chan error, 16)
	d.ctx, d.cancel = context.WithCancel(context.Background())
}

// Subscribe starts the commit-log follower and the group session loop. The
// driver owns their lifetime; only Close stops them, so a final commit after
// the caller's context is cancelled still has a live session.
func (d *SaramaDriver) Subscribe(topic string) error {
	d.mu.Lock()
	d.topic = topic
	d.mu.Unlock()

	partitions, err := d.cl.Partitions(d.cfg.CommitLogTopic)
	if err != nil {
		return fmt.Errorf("sarama-driver: commit log partitions: %w", err)
	}
	for _, p := range partitions {
		pc, err := d.follower.ConsumePartition(d.cfg.CommitLogTopic, p, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("sarama-driver: follow %s[%d]: %w", d.cfg.CommitLogTopic, p, err)
		}
		d.wg.Add(1)
		go d.follow(pc)
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for err := range d.group.Errors() {
			d.fail(err)
		}
	}()
	go func() {
		defer d.wg.Done()
		handler := &groupHandler{driver: d}
		for {
			if err := d.group.Consume(d.ctx, []string{topic}, handler); err != nil {
				if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
					d.fail(err)
				}
				return
			}
			if d.ctx.Err() != nil {
				return
			}
		}
	}()

	logging.L().Info("sarama-driver: subscribed",
		"topic", topic,
		"group", d.cfg.ConsumerGroup,
		"commit_log_topic", d.cfg.CommitLogTopic,
		"synchronize_commit_group", d.cfg.SynchronizeCommitGroup)
	return nil
}

func (d *SaramaDriver) follow(pc sarama.PartitionConsumer) {
	defer d.wg.Done()
	msgs, errs := pc.Messages(), pc.Errors()
	for msgs != nil || errs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			d.observeCommit(m.Key, m.Value)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.fail(err)
		case <-d.ctx.Done():
			_ = pc.Close()
			return
		}
	}
}

func (d *SaramaDriver) observeCommit(key, value []byte) {
	c, err := ParseCommit(key, value)
	if err != nil {
		logging.L().Warn("sarama-driver: skipping commit log record", "err", err)
		return
	}
	d.mu.Lock()
	topic := d.topic
	d.mu.Unlock()
	if c.Group != d.cfg.SynchronizeCommitGroup || c.Topic != topic {
		return
	}
	d.marks.Advance(c.Partition, c.Offset)
}

func (d *SaramaDriver) fail(err error) {
	select {
	case d.errs <- err:
	default:
		logging.L().Error("sarama-driver: error channel full; dropping error", "err", err)
	}
}

func (d *SaramaDriver) Poll(ctx context.Context, timeout time.Duration) PollResult {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-d.errs:
		return BrokerError{Err: err}
	case m := <-d.messages:
		return m
	case <-t.C:
		return Timeout{}
	case <-ctx.Done():
		return Timeout{}
	}
}

// Commit marks every offset on the live session and, when synchronous,
// flushes them to the broker before returning. Without a session it returns
// ErrNoSession; the offsets stay in the caller's tracker and go out with the
// next commit.
func (d *SaramaDriver) Commit(offs []offsets.Offset, synchronous bool) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	for _, o := range offs {
		sess.MarkOffset(o.Topic, o.Partition, o.Offset, "")
	}
	if synchronous {
		sess.Commit()
	}
	return nil
}

func (d *SaramaDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		if d.group != nil {
			err = d.group.Close()
		}
		// partition consumers close themselves once ctx is done
		d.wg.Wait()
		if d.follower != nil {
			_ = d.follower.Close()
		}
		if d.cl != nil && !d.cl.Closed() {
			if cerr := d.cl.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	h.driver.sess = sess
	h.driver.mu.Unlock()
	logging.L().Info("sarama-driver: session started", "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	if h.driver.sess == sess {
		h.driver.sess = nil
	}
	h.driver.mu.Unlock()
	logging.L().Info("sarama-driver: session ended", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.driver.marks.Wait(sess.Context(), msg.Partition, msg.Offset); err != nil {
				return nil
			}
			select {
			case h.driver.messages <- toMessage(msg):
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func toMessage(m *sarama.ConsumerMessage) *Message {
	return &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Timestamp,
	}
}

func init() { Register("sarama", func() Adapter { return &SaramaDriver{} }) }
