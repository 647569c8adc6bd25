// Package cache holds short-lived in-process caches. Values live only in this
// process; each instance of a scaled deployment refreshes its own copy.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"waitlistgate/internal/domain"
)

// DefaultCountTTL is how long a fetched count is served without refetching.
const DefaultCountTTL = 60 * time.Second

const flightKey = "count"

// CountCache is a read-through cache for a single aggregate count. Failed
// refreshes fall back to the last good value marked stale.
type CountCache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.RWMutex
	value      int64
	computedAt time.Time
	loaded     bool

	group singleflight.Group
}

type CountOption func(*CountCache)

// WithCountClock injects the time source.
func WithCountClock(now func() time.Time) CountOption {
	return func(c *CountCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCountCache(ttl time.Duration, opts ...CountOption) *CountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	c := &CountCache{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value while younger than the TTL, otherwise calls fetch.
// Concurrent misses share one fetch. The error is returned only when nothing was ever cached.
func (c *CountCache) Get(ctx context.Context, fetch domain.CountFetcher) (domain.CountResult, error) {
	if v, ok := c.fresh(); ok {
		return domain.CountResult{Value: v}, nil
	}

	res, err, _ := c.group.Do(flightKey, func() (any, error) {
		if v, ok := c.fresh(); ok {
			return v, nil
		}
		// Shared by every collapsed caller, so one caller going away must not cancel it.
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(v)
		return v, nil
	})
	if err != nil {
		c.mu.RLock()
		v, loaded := c.value, c.loaded
		c.mu.RUnlock()
		if loaded {
			return domain.CountResult{Value: v, Stale: true}, nil
		}
		return domain.CountResult{}, fmt.Errorf("%w: %w", domain.ErrBackingStoreUnavailable, err)
	}
	return domain.CountResult{Value: res.(int64)}, nil
}

func (c *CountCache) fresh() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || c.now().Sub(c.computedAt) >= c.ttl {
		return 0, false
	}
	return c.value, true
}

func (c *CountCache) store(v int64) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && c.computedAt.After(now) {
		return
	}
	c.value, c.computedAt, c.loaded = v, now, true
}
