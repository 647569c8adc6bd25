package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"waitlistgate/config"
	"waitlistgate/internal/adapters/auth"
	"waitlistgate/internal/adapters/ratelimit"
	"waitlistgate/internal/delivery/http/controllers"
	"waitlistgate/internal/delivery/http/middleware"
	"waitlistgate/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWaitlistService answers every call with empty success.
type stubWaitlistService struct{ domain.WaitlistService }

func (stubWaitlistService) HandleAvailable(ctx context.Context, handle string) (bool, error) {
	return true, nil
}

func (stubWaitlistService) List(ctx context.Context, status domain.EntryStatus, p domain.PaginationParams) ([]*domain.WaitlistEntry, int, error) {
	return nil, 0, nil
}

func newTestRouter(t *testing.T) (*http.ServeMux, domain.AccessTokenIssuer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := stubWaitlistService{}
	mux := NewRouter(RouterDeps{
		Waitlist: controllers.NewWaitlistController(logger, svc, 100),
		Admin:    controllers.NewAdminController(logger, svc),
		Auth:     controllers.NewAuthController(logger, nil),
		Verifier: auth.NewJWTVerifier("test-secret"),
		Limiter:  ratelimit.NewMemoryLimiter(),
		RateLimits: map[string]middleware.RateLimitRule{
			config.ActionLookup: {Limit: 1, Window: time.Minute},
		},
		Logger: logger,
	})
	return mux, auth.NewJWTIssuer("test-secret")
}

func TestRouter_AdminRoutesRequireAdminRole(t *testing.T) {
	mux, issuer := newTestRouter(t)

	memberToken, err := issuer.Issue("u1", "m@example.com", []string{domain.RoleMember}, time.Hour)
	require.NoError(t, err)
	adminToken, err := issuer.Issue("u2", "a@example.com", []string{domain.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"member", memberToken, http.StatusForbidden},
		{"admin", adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/waitlist", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestRouter_HandleLookupIsRateLimited(t *testing.T) {
	mux, _ := newTestRouter(t)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/waitlist/handles/ada", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr
	}
	first := do()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}
