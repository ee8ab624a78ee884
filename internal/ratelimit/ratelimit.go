// Package ratelimit bounds how fast each producer may call the bulk
// record endpoint. Window state lives in Redis so every daemon replica
// draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshgate/opmond/internal/metrics"
)

// producerWindowScript keeps one sorted set per producer, scored by
// submission time in nanoseconds. Entries older than the window are
// dropped before counting, so the budget slides instead of resetting.
const producerWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, now)
redis.call('EXPIRE', key, ttl)
return 1
`

const producerKeyPrefix = "opmond:producer:"

type RateLimiter interface {
	Allow(ctx context.Context, producer string) (bool, error)
	Close() error
}

type redisRateLimiter struct {
	client   *redis.Client
	limit    int64
	window   time.Duration
	disabled bool
}

func NewRedisRateLimiter(redisURL string, limit int, window time.Duration, disabled bool) (RateLimiter, error) {
	if disabled {
		return &redisRateLimiter{disabled: true}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// Allow reports whether the producer still has budget in the current
// window and, if so, consumes one slot.
func (r *redisRateLimiter) Allow(ctx context.Context, producer string) (bool, error) {
	if r.disabled {
		return true, nil
	}

	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	// The set only needs to outlive the window it counts.
	ttl := int64(r.window.Seconds()) + 1

	result, err := r.client.Eval(ctx, producerWindowScript,
		[]string{producerKeyPrefix + producer}, now, windowStart, r.limit, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result == 0 {
		metrics.RateLimitHits.WithLabelValues(producer).Inc()
		return false, nil
	}
	return true, nil
}

func (r *redisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// NoOpRateLimiter admits every submission. Used when Redis is disabled
// and in tests.
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(ctx context.Context, producer string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
