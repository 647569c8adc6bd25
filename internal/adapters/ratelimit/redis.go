package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"waitlistgate/internal/domain"
)

// The expiry is set only by the request that opens the window, so the window
// is fixed from its first request. A key left without a TTL is repaired.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter shared by every instance using the same Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

type RedisOption func(*RedisLimiter)

func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewRedisLimiter(rdb redis.Scripter, logger *slog.Logger, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		rdb:    rdb,
		prefix: "ratelimit",
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndIncrement counts one request for key. Redis errors fail open.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) domain.RateLimitDecision {
	now := l.now()
	res, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		if l.logger != nil {
			l.logger.WarnContext(ctx, "rate limit store unavailable, allowing request", "key", key, "err", err)
		}
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}
}

func (l *RedisLimiter) key(k string) string {
	if l.prefix == "" {
		return k
	}
	return l.prefix + ":" + k
}
