package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "ratelimit:"
)

// RateLimiter is a fixed one-minute window counter per key
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		now:               time.Now,
	}
}

// Allow checks if a request should be allowed based on rate limits
// Returns (allowed, remaining, resetTime, error)
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	windowStart := r.now().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())

	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := incrCmd.Val()
	limit := int64(r.requestsPerMinute + r.burst)
	remaining := int(max(limit-count, 0))

	return count <= limit, remaining, windowEnd, nil
}

// Reset resets the rate limit counter for a key in the current window
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, r.now().Truncate(time.Minute).Unix())
	return r.client.rdb.Del(ctx, fullKey).Err()
}
