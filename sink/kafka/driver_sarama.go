package kafka

import (
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"eventstream/sink"
)

type Config struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	Version  string   `koanf:"version"`
	Acks     int16    `koanf:"required_acks"` // 0,1,-1

	// QueueCapacity bounds messages between Produce and their served
	// delivery report; Produce fails fast past it.
	QueueCapacity int `koanf:"queue_capacity"`

	// EnqueueTimeout bounds a send to sarama's unbuffered input channel.
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout"`

	ReportSuccesses bool   `koanf:"report_successes"`
	TLSEn           bool   `koanf:"tls_enabled"`
	SASLUser        string `koanf:"sasl_user"`
	SASLPass        string `koanf:"sasl_pass"`
}

// driver wraps a sarama AsyncProducer. sarama's input, successes and errors
// channels are unbuffered, and an unread report stalls the whole producer.
// pump therefore moves every report into a local queue at once; Poll serves
// them from there. Each message holds a slot until its report is served, so
// the local queue can never fill.
type driver struct {
	cfg Config
	p   sarama.AsyncProducer

	slots   chan struct{}
	reports chan sink.Delivery
	pumped  chan struct{}

	onDelivery sink.DeliveryHandler

	// guards p.Input() against sends racing Close
	mu     sync.RWMutex
	closed bool
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(p, cfg)
	return nil
}

func (d *driver) start(p sarama.AsyncProducer, cfg Config) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10_000
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}
	d.cfg = cfg
	d.p = p
	d.slots = make(chan struct{}, cfg.QueueCapacity)
	d.reports = make(chan sink.Delivery, cfg.QueueCapacity)
	d.pumped = make(chan struct{})
	go d.pump()
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Errors = true
	// successes release slots even when they are not reported
	sc.Producer.Return.Successes = true
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	return sc, nil
}

func (d *driver) BindDelivery(fn sink.DeliveryHandler) { d.onDelivery = fn }

func (d *driver) Produce(topic string, key, value []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return sink.ErrClosed
	}
	select {
	case d.slots <- struct{}{}:
	default:
		return sink.ErrQueueFull
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	t := time.NewTimer(d.cfg.EnqueueTimeout)
	defer t.Stop()
	select {
	case d.p.Input() <- msg:
		return nil
	case <-t.C:
		<-d.slots
		return sink.ErrQueueFull
	}
}

// pump runs until sarama closes both report channels after AsyncClose.
func (d *driver) pump() {
	defer close(d.pumped)
	succ, errs := d.p.Successes(), d.p.Errors()
	for succ != nil || errs != nil {
		select {
		case m, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			d.reports <- Delivery(m)
		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			dl := Delivery(pe.Msg)
			dl.Err = pe.Err
			d.reports <- dl
		}
	}
}

func (d *driver) Poll(timeout time.Duration) int {
	n := 0
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case dl := <-d.reports:
			d.serve(dl)
			n++
		case <-t.C:
			return 0
		}
	}
	for {
		select {
		case dl := <-d.reports:
			d.serve(dl)
			n++
		default:
			return n
		}
	}
}

func (d *driver) serve(dl sink.Delivery) {
	<-d.slots
	if d.onDelivery == nil || (dl.Err == nil && !d.cfg.ReportSuccesses) {
		return
	}
	d.onDelivery(dl)
}

// Close flushes buffered messages and serves their delivery reports.
func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.p.AsyncClose()
	<-d.pumped
	d.Poll(0)
	return nil
}

// Delivery converts a sarama message into a sink.Delivery.
func Delivery(m *sarama.ProducerMessage) sink.Delivery {
	if m == nil {
		return sink.Delivery{}
	}
	dl := sink.Delivery{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	if m.Key != nil {
		dl.Key, _ = m.Key.Encode()
	}
	if m.Value != nil {
		dl.Value, _ = m.Value.Encode()
	}
	return dl
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
