package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	h "waitlistgate/internal/delivery/http/helpers"
	"waitlistgate/internal/domain"
)

// KeyFunc identifies the actor behind a request.
type KeyFunc func(r *http.Request) string

// ClientIP returns a KeyFunc keyed on the client address. The first
// X-Forwarded-For hop is used only when trustForwarded is set.
func ClientIP(trustForwarded bool) KeyFunc {
	return func(r *http.Request) string {
		if trustForwarded {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// RateLimitRule is the per-action budget applied by RateLimit.
type RateLimitRule struct {
	Action string
	Limit  int
	Window time.Duration
}

// RateLimit wraps next with a fixed-window check keyed "<action>:<actor>".
// Every response carries X-RateLimit-* headers; rejected requests get 429 and Retry-After.
func RateLimit(limiter domain.RateLimiter, rule RateLimitRule, keyFn KeyFunc, now func() time.Time) func(http.HandlerFunc) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			key := rule.Action + ":" + keyFn(r)
			dec := limiter.CheckAndIncrement(r.Context(), key, rule.Limit, rule.Window)

			hdr := w.Header()
			hdr.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			hdr.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			hdr.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
			if !dec.Allowed {
				retry := dec.RetryAfter(now())
				hdr.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				h.WriteJSONError(w, http.StatusTooManyRequests, h.ErrCodeRateLimited, "too many requests, retry in "+retry.String())
				return
			}
			next(w, r)
		}
	}
}
