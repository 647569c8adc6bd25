package http

import (
	"log/slog"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
	"waitlistgate/config"
	"waitlistgate/internal/delivery/http/controllers"
	"waitlistgate/internal/delivery/http/middleware"
	"waitlistgate/internal/domain"
)

// RouterDeps holds the controllers and guards the router wires together.
type RouterDeps struct {
	Waitlist *controllers.WaitlistController
	Admin    *controllers.AdminController
	Auth     *controllers.AuthController
	Verifier domain.AccessTokenVerifier
	Limiter  domain.RateLimiter
	// RateLimits maps an action to its budget; actions without an entry are not limited.
	RateLimits     map[string]middleware.RateLimitRule
	TrustForwarded bool
	Logger         *slog.Logger
}

// NewRouter initializes the HTTP router with all application routes
func NewRouter(d RouterDeps) *http.ServeMux {
	mux := http.NewServeMux()
	keyFn := middleware.ClientIP(d.TrustForwarded)
	limit := func(action string, next http.HandlerFunc) http.HandlerFunc {
		rule := d.RateLimits[action]
		rule.Action = action
		return middleware.RateLimit(d.Limiter, rule, keyFn, nil)(next)
	}
	requireAuth := middleware.RequireAuth(d.Verifier, d.Logger)
	requireAdmin := middleware.RequireRole(domain.RoleAdmin)
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return requireAuth(requireAdmin(next))
	}

	// Public waitlist
	mux.HandleFunc("POST /waitlist", limit(config.ActionJoin, d.Waitlist.Join))
	mux.HandleFunc("GET /waitlist/count", d.Waitlist.Count)
	mux.HandleFunc("GET /waitlist/{entryID}/position", limit(config.ActionPosition, d.Waitlist.Position))
	mux.HandleFunc("GET /waitlist/handles/{handle}", limit(config.ActionLookup, d.Waitlist.HandleAvailability))
	mux.HandleFunc("POST /activate", limit(config.ActionRedeem, d.Waitlist.Activate))

	// Auth
	mux.HandleFunc("POST /auth/login", limit(config.ActionLogin, d.Auth.Login))

	// Admin
	mux.HandleFunc("GET /admin/waitlist", admin(d.Admin.List))
	mux.HandleFunc("POST /admin/waitlist/{entryID}/approve", admin(d.Admin.Approve))
	mux.HandleFunc("POST /admin/waitlist/{entryID}/reissue", admin(d.Admin.Reissue))

	// Swagger
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return mux
}
