package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CommandObserver is told the result of every Redis command the limiter runs
type CommandObserver interface {
	RedisCommand(command string, err error)
}

// DistributedRateLimiter implements fixed-window rate limiting in Redis so
// that limits are shared across instances
type DistributedRateLimiter struct {
	redis    *redis.Client
	config   *RateLimitConfig
	prefix   string
	observer CommandObserver
}

var _ Limiter = (*DistributedRateLimiter)(nil)

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "portal:ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// SetObserver installs a Redis command observer
func (rl *DistributedRateLimiter) SetObserver(o CommandObserver) {
	rl.observer = o
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

func (rl *DistributedRateLimiter) observe(command string, err error) {
	if rl.observer != nil {
		rl.observer.RedisCommand(command, err)
	}
}

// Allow counts the request in the current window. On Redis errors the
// request is allowed and the error returned.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)
	limit := rl.config.capacity()

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	_, err := pipe.Exec(ctx)
	rl.observe("incr", err)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	// A key without expiry is a new window
	window := ttl.Val()
	if window < 0 {
		err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err()
		rl.observe("expire", err)
		if err != nil {
			return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
		}
		window = rl.config.WindowDuration
	}

	count := int(incr.Val())
	d := Decision{
		Allowed: count <= limit,
		Limit:   rl.config.RequestsPerWindow,
		Reset:   time.Now().Add(window),
	}
	if remaining := limit - count; remaining > 0 {
		d.Remaining = remaining
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.capacity(), nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.capacity() - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
