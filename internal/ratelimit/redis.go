package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter counters.
const redisKeyPrefix = "ratelimit:"

// RedisStore shares windows between server instances.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// Connect initializes a Redis client from URL or host:port input and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts := &redis.Options{Addr: redisURL}

	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// Hit implements Store. The counter key expires with its window, so Redis
// sweeps expired windows itself.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	redisKey := redisKeyPrefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.PExpireNX(ctx, redisKey, window)
		ttl = p.PTTL(ctx, redisKey)

		return nil
	})
	if err != nil {
		return Window{}, fmt.Errorf("count request: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}

	return Window{
		Count:   int(incr.Val()),
		ResetAt: s.now().Add(remaining),
	}, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
