// Package cache provides a wrapper around the redis client.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/config"
)

const (
	idempotencyPrefix = "idempotency:"
	attemptsPrefix    = "attempts:"

	// DefaultAttemptsTTL bounds how long a failure count outlives the last
	// failure of its message.
	DefaultAttemptsTTL = time.Hour
)

// Cache is a wrapper around the redis client.
type Cache struct {
	redis *redis.Client
}

func New(cfg config.RedisConfig) *Cache {
	return &Cache{
		redis: redis.NewClient(&redis.Options{Addr: cfg.Addr()}),
	}
}

// Get gets a value from the cache. A missing key returns redis.Nil.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.redis.Get(ctx, key).Result()
}

// Ping pings the cache.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.redis.Close()
}

// Reserve claims an idempotency key for messageID. When the key is already
// held it returns the message ID stored under it and false.
func (c *Cache) Reserve(ctx context.Context, key, messageID string, ttl time.Duration) (string, bool, error) {
	k := idempotencyPrefix + key

	ok, err := c.redis.SetNX(ctx, k, messageID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return messageID, true, nil
	}

	existing, err := c.Get(ctx, k)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return c.Reserve(ctx, key, messageID, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return existing, false, nil
}

// Release frees an idempotency key so the request can be retried.
func (c *Cache) Release(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, idempotencyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// AttemptCounter counts delivery failures in redis so every consumer of a
// queue sees the same count for a message.
type AttemptCounter struct {
	cache *Cache
	ttl   time.Duration
}

func (c *Cache) AttemptCounter(ttl time.Duration) *AttemptCounter {
	if ttl <= 0 {
		ttl = DefaultAttemptsTTL
	}
	return &AttemptCounter{cache: c, ttl: ttl}
}

func (a *AttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	k := attemptsPrefix + key

	var incr *redis.IntCmd
	_, err := a.cache.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, a.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	return incr.Val(), nil
}

func (a *AttemptCounter) Forget(ctx context.Context, key string) error {
	return a.cache.redis.Del(ctx, attemptsPrefix+key).Err()
}
