package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "eventstream:post_process"

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Queue    string        `koanf:"queue"`
	Timeout  time.Duration `koanf:"timeout"`
}

// message is the queue payload a post-process worker pops.
type message struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Kwargs     Task      `json:"kwargs"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue pushes tasks onto a Redis list; workers BRPOP from the other end.
type RedisQueue struct {
	rdb     listPusher
	closer  func() error
	key     string
	timeout time.Duration
	now     func() time.Time
}

func NewRedisQueue(cfg RedisConfig) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	q := newRedisQueue(rdb, cfg.Queue, cfg.Timeout)
	q.closer = rdb.Close
	return q
}

func newRedisQueue(rdb listPusher, key string, timeout time.Duration) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisQueue{rdb: rdb, key: key, timeout: timeout, now: time.Now}
}

func (q *RedisQueue) Dispatch(ctx context.Context, t Task) error {
	b, err := json.Marshal(message{
		ID:         uuid.NewString(),
		Task:       TaskName,
		Kwargs:     t,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("dispatch: encode task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.rdb.LPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("dispatch: enqueue on %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	if q.closer != nil {
		return q.closer()
	}
	return nil
}
