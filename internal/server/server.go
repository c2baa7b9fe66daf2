// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/counselpoint/authcore/internal/auth"
	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/database"
	"codeberg.org/counselpoint/authcore/internal/handlers"
	"codeberg.org/counselpoint/authcore/internal/i18n"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/email"
	"codeberg.org/counselpoint/authcore/internal/services/otp"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"codeberg.org/counselpoint/authcore/internal/services/session"
	"codeberg.org/counselpoint/authcore/internal/services/sweeper"
	"codeberg.org/counselpoint/authcore/internal/services/token"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	SetupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"ratelimit_backend", cfg.RateLimit.Backend,
		"registration", cfg.Auth.RegistrationMode,
	)

	// Database (migrations run on open)
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(db); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	app, err := New(ctx, cfg, repository.New(db))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.Sweeper.Run(ctx)

	return startWithGracefulShutdown(ctx, app.Echo, cfg)
}

// App is the wired HTTP application.
type App struct {
	Echo     *echo.Echo
	Sweeper  *sweeper.Sweeper
	Flow     *passwordless.Service
	Limiter  *ratelimit.Limiter
	Sessions *session.Manager
	Resolver *auth.Resolver

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	notifier passwordless.Notifier
	now      func() time.Time
}

// WithNotifier replaces the code delivery chosen from the SMTP settings.
func WithNotifier(n passwordless.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock replaces the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires the services and routes for cfg on top of repo.
func New(ctx context.Context, cfg *config.Config, repo *repository.Repository, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{}

	store, closeStore, err := NewRateLimitStore(ctx, cfg, repo)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeStore)
	app.Limiter = ratelimit.New(store, ratelimit.WithClock(o.now))

	notifier := o.notifier
	if notifier == nil {
		if notifier, err = newNotifier(cfg); err != nil {
			app.Close()
			return nil, err
		}
	}

	tokens, err := token.NewFromConfig(&cfg.JWT)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to set up token issuer: %w", err)
	}
	tokens.SetClock(o.now)

	app.Sessions, err = session.NewManager(&cfg.Session, cfg.TLS.Mode != config.TLSModeOff)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to set up sessions: %w", err)
	}
	app.Sessions.SetClock(o.now)

	codes := otp.NewStore(repo,
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithMaxAttempts(cfg.OTP.MaxAttempts),
		otp.WithClock(o.now),
	)
	app.Flow = passwordless.New(codes, app.Limiter, notifier, repo, tokens, passwordless.Config{
		MaxRequests:      cfg.RateLimit.MaxRequests,
		Window:           cfg.RateLimit.Window,
		ResendCooldown:   cfg.OTP.ResendCooldown,
		RegistrationMode: cfg.Auth.RegistrationMode,
	})
	app.Flow.SetClock(o.now)

	app.Resolver = auth.NewResolver(app.Sessions, tokens, repo)
	app.Sweeper = sweeper.New(repo, cfg.Sweeper.Interval)
	app.Sweeper.SetClock(o.now)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler

	setupMiddleware(e, cfg)
	setupRoutes(e, app, repo)
	app.Echo = e

	return app, nil
}

// Close releases external connections.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Error("failed to close connection", "error", err)
		}
	}
	a.closers = nil
}

// NewRateLimitStore returns the configured rate limit backend and a function
// releasing its connection.
func NewRateLimitStore(ctx context.Context, cfg *config.Config, repo *repository.Repository) (ratelimit.Store, func() error, error) {
	if cfg.RateLimit.Backend != config.RateLimitBackendRedis {
		return ratelimit.NewSQLStore(repo), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	slog.Info("rate limiter uses redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	return ratelimit.NewRedisStore(client), client.Close, nil
}

func newNotifier(cfg *config.Config) (passwordless.Notifier, error) {
	if cfg.SMTP.Host == "" {
		slog.Warn("no SMTP host configured, sign-in codes are written to the log")
		return email.LogNotifier{Logger: slog.Default()}, nil
	}
	n, err := email.NewSMTPNotifier(&cfg.SMTP, cfg.SMTP.FromName)
	if err != nil {
		return nil, fmt.Errorf("failed to set up SMTP: %w", err)
	}
	return n, nil
}

func setupRoutes(e *echo.Echo, app *App, repo *repository.Repository) {
	h := handlers.New(repo)
	authH := handlers.NewAuth(app.Flow, app.Sessions)
	adminH := handlers.NewAdmin(repo, app.Limiter)

	e.GET("/health", h.Health)

	api := e.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/otp/request", authH.RequestCode)
	authGroup.POST("/otp/resend", authH.ResendCode)
	authGroup.POST("/otp/verify", authH.VerifyCode)
	authGroup.POST("/logout", authH.Logout)
	authGroup.GET("/me", authH.Me, RequireAuth(app.Resolver))

	admin := api.Group("/admin", RequireRole(app.Resolver, models.RoleAdmin))
	admin.GET("/users", adminH.ListUsers)
	admin.PUT("/users/:id/role", adminH.SetRole)
	admin.DELETE("/rate-limits/:email", adminH.ResetRateLimit)

	api.GET("/counselor/ping", adminH.CounselorPing,
		RequireRole(app.Resolver, models.RoleAdmin, models.RoleCounselor))
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	tlsResult, err := SetupTLS(cfg)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	errChan := make(chan error, 2)

	// HTTP challenge server for ACME mode
	var httpServer *http.Server

	switch tlsResult.Mode {
	case TLSModeOff:
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

	case TLSModeACME:
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := startTLSServer(ctx, e, ":443", tlsResult.TLSConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		httpServer = &http.Server{
			Addr:              ":80",
			Handler:           tlsResult.HTTPHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP to HTTPS redirect active", "addr", ":80")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

	case TLSModeManual:
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := startTLSServer(ctx, e, addr, tlsResult.TLSConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown main server", "error", err)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown HTTP redirect server", "error", err)
		}
	}

	slog.Info("server stopped")
	return nil
}

// startTLSServer starts the Echo server with a custom TLS configuration.
func startTLSServer(ctx context.Context, e *echo.Echo, addr string, tlsConfig *tls.Config) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	e.TLSListener = tls.NewListener(ln, tlsConfig)
	e.TLSServer.TLSConfig = tlsConfig
	return e.TLSServer.Serve(e.TLSListener)
}
