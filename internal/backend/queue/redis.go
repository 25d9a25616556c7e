package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey   = "cardscan:tasks"
	defaultClaimTTL   = 7 * 24 * time.Hour
	defaultPollPeriod = time.Second
)

// enqueueScript claims the card id and pushes the task in one atomic step.
// Returns -1 when the card was already claimed and -2 when the list is full.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end
local capacity = tonumber(ARGV[2])
if capacity > 0 and redis.call('LLEN', KEYS[1]) >= capacity then
	return -2
end
redis.call('SET', KEYS[2], '1', 'EX', ARGV[3])
redis.call('LPUSH', KEYS[1], ARGV[1])
return redis.call('LLEN', KEYS[1])
`)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RedisQueue keeps tasks in a Redis list so separate worker processes can
// consume what the gateway produced. Claims on card ids expire after claimTTL.
type RedisQueue struct {
	client     redis.UniversalClient
	ownsClient bool
	listKey    string
	capacity   int
	claimTTL   time.Duration
	pollPeriod time.Duration
	closed     atomic.Bool
}

func NewRedisQueue(cfg RedisConfig, capacity int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	q := NewRedisQueueWithClient(client, cfg.Key, capacity)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueWithClient wraps an existing client; Close leaves the client open.
func NewRedisQueueWithClient(client redis.UniversalClient, key string, capacity int) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisQueue{
		client:     client,
		listKey:    key,
		capacity:   capacity,
		claimTTL:   defaultClaimTTL,
		pollPeriod: defaultPollPeriod,
	}
}

func (q *RedisQueue) claimKey(cardID string) string {
	return q.listKey + ":claimed:" + cardID
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.listKey, q.claimKey(task.CardID)},
		string(payload), q.capacity, int64(q.claimTTL/time.Second)).Int64()
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	switch res {
	case -1:
		return ErrAlreadyScheduled
	case -2:
		return ErrQueueFull
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		values, err := q.client.BRPop(ctx, q.pollPeriod, q.listKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Task{}, ctxErr
			}
			if q.closed.Load() {
				return Task{}, ErrClosed
			}
			return Task{}, fmt.Errorf("failed to dequeue task: %w", err)
		}
		// BRPOP answers with [key, value]
		if len(values) != 2 {
			return Task{}, fmt.Errorf("unexpected BRPOP reply of length %d", len(values))
		}

		var task Task
		if err := json.Unmarshal([]byte(values[1]), &task); err != nil {
			return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		return task, nil
	}
}

// Len returns the number of tasks waiting in the list.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listKey).Result()
}

func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}
