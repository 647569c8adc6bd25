package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"waitlistgate/config"
	_ "waitlistgate/docs"
	"waitlistgate/internal/adapters/auth"
	"waitlistgate/internal/adapters/cache"
	"waitlistgate/internal/adapters/email"
	"waitlistgate/internal/adapters/ratelimit"
	httpdelivery "waitlistgate/internal/delivery/http"
	"waitlistgate/internal/delivery/http/controllers"
	"waitlistgate/internal/delivery/http/middleware"
	"waitlistgate/internal/domain"
	"waitlistgate/internal/repository/postgres"
	"waitlistgate/internal/services"
)

// @title Waitlist Gate API
// @version 1.0
// @description Invite-gated waitlist: join, admin approval, single-use activation tokens.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := config.NewLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	limiter, closeLimiter, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	mailer, err := email.NewMailer(email.MailerConfig{
		Provider:    cfg.EmailProvider,
		FromAddress: cfg.EmailFromAddress,
		FromName:    cfg.EmailFromName,
		SES: email.SESConfig{
			Region:             cfg.AWSRegion,
			AccessKeyID:        cfg.AWSAccessKeyID,
			SecretAccessKey:    cfg.AWSSecretAccessKey,
			InsecureSkipVerify: cfg.SESInsecureSkipVerify,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	renderer, err := email.NewTemplateRenderer()
	if err != nil {
		return fmt.Errorf("email templates: %w", err)
	}

	txm := postgres.NewTxManager(db)
	accounts := services.NewAccountService(
		postgres.NewUserRepository(db),
		postgres.NewRoleRepository(db),
		txm,
		auth.NewBcryptHasher(auth.DefaultBcryptCost),
		auth.NewJWTIssuer(cfg.JWTSecret),
		cfg.JWTExpiry,
		logger,
	)
	if err := bootstrapAdmin(ctx, cfg, accounts, logger); err != nil {
		return err
	}
	waitlist := services.NewWaitlistService(
		postgres.NewWaitlistRepository(db),
		txm,
		auth.NewActivationTokenIssuer(),
		services.NewEmailService(mailer, renderer, logger),
		accounts,
		cache.NewCountCache(cfg.CountCacheTTL),
		services.WaitlistConfig{
			TokenTTL:          cfg.ActivationTokenTTL,
			TokenBytes:        cfg.ActivationTokenBytes,
			ActivationBaseURL: cfg.AppBaseURL,
		},
		logger,
	)

	rules := make(map[string]middleware.RateLimitRule, len(cfg.RateLimits))
	for action, rl := range cfg.RateLimits {
		rules[action] = middleware.RateLimitRule{Action: action, Limit: rl.Limit, Window: rl.Window}
	}
	mux := httpdelivery.NewRouter(httpdelivery.RouterDeps{
		Waitlist:       controllers.NewWaitlistController(logger, waitlist, int64(cfg.PositionDisplayOffset)),
		Admin:          controllers.NewAdminController(logger, waitlist),
		Auth:           controllers.NewAuthController(logger, accounts),
		Verifier:       auth.NewJWTVerifier(cfg.JWTSecret),
		Limiter:        limiter,
		RateLimits:     rules,
		TrustForwarded: cfg.TrustProxyHeaders,
		Logger:         logger,
	})
	handler := middleware.CORS(cfg.CORSAllowedOrigins, middleware.LoggingMiddleware(logger, mux))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("server listening", "addr", srv.Addr, "env", cfg.Environment, "rate_limit_store", cfg.RateLimitStore)
	return serve(ctx, srv, ln, 10*time.Second, logger)
}

// serve runs srv on ln until ctx is cancelled, then drains in-flight requests.
// It returns only after the drain has finished.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drainTimeout time.Duration, logger *slog.Logger) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "err", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-shutdownDone
	logger.Info("server stopped")
	return nil
}

type adminBootstrapper interface {
	EnsureAdmin(ctx context.Context, email, password, name string) error
}

// bootstrapAdmin grants the admin role to ADMIN_EMAIL so the admin routes are reachable.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, accounts adminBootstrapper, logger *slog.Logger) error {
	if cfg.AdminEmail == "" {
		logger.Warn("ADMIN_EMAIL not set, no admin account bootstrapped")
		return nil
	}
	if err := accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("admin account ready", "email", cfg.AdminEmail)
	return nil
}

// newRateLimiter returns the shared Redis limiter when configured, otherwise a per-instance one.
func newRateLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.RateLimiter, func(), error) {
	if cfg.RateLimitStore != "redis" {
		if cfg.RateLimitStore != "memory" {
			logger.Warn("unknown RATE_LIMIT_STORE, using memory", "value", cfg.RateLimitStore)
		}
		return ratelimit.NewMemoryLimiter(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("redis ping failed, rate limits will allow until it recovers", "err", err)
	}
	return ratelimit.NewRedisLimiter(rdb, logger), func() { _ = rdb.Close() }, nil
}
