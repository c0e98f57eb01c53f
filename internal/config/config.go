// Package config loads the eventstream configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"eventstream/internal/dispatch"
	"eventstream/internal/quota"
	sinkkafka "eventstream/sink/kafka"
	"eventstream/sink/kafkago"
	"eventstream/sink/stdout"
	"eventstream/source/kafka"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const SupportedSchema = "v1"

// EnvPrefix marks variables that override file values. Nesting uses "__",
// e.g. EVENTSTREAM_RELAY__COMMIT_BATCH_SIZE=50.
const EnvPrefix = "EVENTSTREAM_"

type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	// Kafka is the cluster both halves talk to; the relay consumes with it and
	// the publisher inherits its brokers unless it sets its own.
	Kafka     kafka.Config    `koanf:"kafka"`
	Publisher PublisherConfig `koanf:"publisher"`
	Relay     RelayConfig     `koanf:"relay"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Quota     QuotaConfig     `koanf:"quota"`
	Admin     AdminConfig     `koanf:"admin"`
	Log       LogConfig       `koanf:"log"`
}

type PublisherConfig struct {
	Topic         string        `koanf:"topic"`
	Driver        string        `koanf:"driver"` // kafka|kafka-go|stdout
	DrainInterval time.Duration `koanf:"drain_interval"`
	FlushTimeout  time.Duration `koanf:"flush_timeout"`

	Sarama  sinkkafka.Config `koanf:"sarama"`
	KafkaGo kafkago.Config   `koanf:"kafka_go"`
	Stdout  stdout.Config    `koanf:"stdout"`
}

type RelayConfig struct {
	Driver                 string        `koanf:"driver"`
	ConsumerGroup          string        `koanf:"consumer_group"`
	CommitLogTopic         string        `koanf:"commit_log_topic"`
	SynchronizeCommitGroup string        `koanf:"synchronize_commit_group"`
	CommitBatchSize        int           `koanf:"commit_batch_size"`
	PollTimeout            time.Duration `koanf:"poll_timeout"`
}

type DispatchConfig struct {
	Driver string               `koanf:"driver"` // redis|log
	Redis  dispatch.RedisConfig `koanf:"redis"`
}

type QuotaConfig struct {
	DefaultRetentionDays int           `koanf:"default_retention_days"`
	PostgresDSN          string        `koanf:"postgres_dsn"`
	CacheSize            int           `koanf:"cache_size"`
	CacheTTL             time.Duration `koanf:"cache_ttl"`
	QueryTimeout         time.Duration `koanf:"query_timeout"`
}

type AdminConfig struct {
	HTTPAddr string `koanf:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Defaults is the configuration used for every key neither the file nor the
// environment sets.
func Defaults() Config {
	return Config{
		SchemaVersion: SupportedSchema,
		Kafka: kafka.Config{
			Brokers:   []string{"localhost:9092"},
			ClientID:  "eventstream",
			StartFrom: "oldest",
		},
		Publisher: PublisherConfig{
			Topic:        "events",
			Driver:       "kafka",
			FlushTimeout: 10 * time.Second,
			Sarama:       sinkkafka.Config{Acks: -1, QueueCapacity: 10_000, EnqueueTimeout: time.Second},
			KafkaGo:      kafkago.Config{Acks: -1, QueueCapacity: 10_000, BatchTimeout: 10 * time.Millisecond},
		},
		Relay: RelayConfig{
			Driver:          "sarama",
			CommitBatchSize: 100,
			PollTimeout:     100 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Driver: "log",
			Redis:  dispatch.RedisConfig{Addr: "localhost:6379", Queue: dispatch.DefaultQueueKey, Timeout: 2 * time.Second},
		},
		Quota: QuotaConfig{
			DefaultRetentionDays: quota.DefaultRetentionDays,
			CacheSize:            1024,
			CacheTTL:             5 * time.Minute,
			QueryTimeout:         time.Second,
		},
		Admin: AdminConfig{HTTPAddr: ":9100", GRPCAddr: ":7070"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load merges Defaults, the YAML file at path (a missing file is fine) and
// EVENTSTREAM_* variables, in that order, and validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config: schema_version %q not supported (want %q)", sv, SupportedSchema)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.inherit()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EVENTSTREAM_RELAY__CONSUMER_GROUP -> relay.consumer_group
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (c *Config) inherit() {
	if len(c.Publisher.Sarama.Brokers) == 0 {
		c.Publisher.Sarama.Brokers = c.Kafka.Brokers
	}
	if c.Publisher.Sarama.ClientID == "" {
		c.Publisher.Sarama.ClientID = c.Kafka.ClientID
	}
	if c.Publisher.Sarama.Version == "" {
		c.Publisher.Sarama.Version = c.Kafka.Version
	}
	if len(c.Publisher.KafkaGo.Brokers) == 0 {
		c.Publisher.KafkaGo.Brokers = c.Kafka.Brokers
	}
}

// Validate checks the fields every command relies on. Relay group names are
// checked by the relay command, since they may come from flags.
func (c Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if c.Publisher.Topic == "" {
		errs = append(errs, errors.New("publisher.topic is empty"))
	}
	switch c.Publisher.Driver {
	case "kafka", "kafka-go", "stdout":
	default:
		errs = append(errs, fmt.Errorf("publisher.driver %q unknown", c.Publisher.Driver))
	}
	if c.Relay.CommitBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.commit_batch_size must be a positive integer, got %d", c.Relay.CommitBatchSize))
	}
	switch c.Dispatch.Driver {
	case "redis", "log":
	default:
		errs = append(errs, fmt.Errorf("dispatch.driver %q unknown", c.Dispatch.Driver))
	}
	if c.Quota.DefaultRetentionDays <= 0 {
		errs = append(errs, errors.New("quota.default_retention_days must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
