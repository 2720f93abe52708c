package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "jobpulse:"

// RedisLocker implements Locker with SET NX + TTL
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker parses redisURL and verifies connectivity
func NewRedisLocker(ctx context.Context, redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Acquire takes the lock with the configured TTL so a crashed holder cannot
// wedge a config forever.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+key, 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release drops the lock
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}

// Close releases the underlying client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
