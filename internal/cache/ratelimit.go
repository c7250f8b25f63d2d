package cache

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts actions per key in Redis within a fixed window so the
// limit holds across process instances.
type RateLimiter struct {
	redis  *Redis
	max    int
	window time.Duration
	prefix string
}

// NewRateLimiter builds a limiter allowing max actions per window.
func NewRateLimiter(redis *Redis, max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:  redis,
		max:    max,
		window: window,
		prefix: "rl:msg:",
	}
}

// Allow records one action for key and reports whether it is within the
// limit. Fails open when Redis is unreachable so a cache outage never blocks
// message processing.
func (l *RateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.redis == nil {
		return true
	}
	redisKey := l.prefix + key
	cnt, err := l.redis.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.redis.logger.Warn("rate limit check failed", "error", err)
		return true
	}
	if cnt == 1 {
		if err := l.redis.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.redis.logger.Warn("rate limit expire failed", "error", err)
		}
	}
	return cnt <= int64(l.max)
}

// Remaining reports how many actions are left in the current window.
func (l *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	cnt, err := l.redis.client.Get(ctx, l.prefix+key).Int()
	if err != nil {
		return 0, fmt.Errorf("rate limit get: %w", err)
	}
	if cnt >= l.max {
		return 0, nil
	}
	return l.max - cnt, nil
}
