package domain

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of one fixed-window check.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied caller should wait, rounded up to whole seconds.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

// RateLimiter counts requests per opaque actor+action key in fixed windows.
// Implementations always return a decision; on internal failure they allow.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) RateLimitDecision
}

// CountFetcher is the slow aggregate query behind the count cache.
type CountFetcher func(ctx context.Context) (int64, error)

// CountCache is a short-TTL read-through cache with stale-on-error fallback.
type CountCache interface {
	Get(ctx context.Context, fetch CountFetcher) (CountResult, error)
}
