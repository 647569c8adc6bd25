// Package ratelimit implements fixed-window request counters keyed by an
// opaque actor+action string.
//
// MemoryLimiter keeps counters in process memory, so each instance of a
// horizontally scaled deployment enforces its own copy of the limit. Use
// RedisLimiter when the limit must hold across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"waitlistgate/internal/domain"
)

const defaultSweepEvery = 1024

type fixedWindow struct {
	count  int
	start  time.Time
	length time.Duration
}

// MemoryLimiter is a process-local fixed-window limiter. Counters are lost on
// restart, which fails open.
type MemoryLimiter struct {
	mu         sync.Mutex
	windows    map[string]*fixedWindow
	now        func() time.Time
	calls      uint64
	sweepEvery uint64
}

type MemoryOption func(*MemoryLimiter)

// WithClock injects the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepEvery sets how many calls pass between removals of elapsed windows. Zero disables sweeping.
func WithSweepEvery(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n >= 0 {
			l.sweepEvery = uint64(n)
		}
	}
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows:    make(map[string]*fixedWindow),
		now:        time.Now,
		sweepEvery: defaultSweepEvery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndIncrement counts one request for key. The window restarts on the
// first request for a key or once window has elapsed since it started.
func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) domain.RateLimitDecision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.sweepEvery > 0 && l.calls%l.sweepEvery == 0 {
		l.sweepLocked(now)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &fixedWindow{start: now, length: window}
		l.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   w.start.Add(window),
	}
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= w.length {
			delete(l.windows, k)
		}
	}
}
