// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	altsrc "github.com/urfave/cli-altsrc/v3"
	altsrctoml "github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var (
	configFile   = "config.toml"
	configSource = altsrc.NewStringPtrSourcer(&configFile)
)

// Registration modes.
const (
	RegistrationOpen   = "open"
	RegistrationClosed = "closed"
)

// Rate limiter backends.
const (
	RateLimitBackendSQL   = "sql"
	RateLimitBackendRedis = "redis"
)

// TLS modes.
const (
	TLSModeOff    = "off"
	TLSModeManual = "manual"
	TLSModeACME   = "acme"
)

// JWT signing methods.
const (
	JWTMethodHS256   = "hs256"
	JWTMethodEd25519 = "ed25519"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Database  DatabaseConfig  `toml:"database"`
	TLS       TLSConfig       `toml:"tls"`
	Session   SessionConfig   `toml:"session"`
	JWT       JWTConfig       `toml:"jwt"`
	OTP       OTPConfig       `toml:"otp"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Redis     RedisConfig     `toml:"redis"`
	SMTP      SMTPConfig      `toml:"smtp"`
	Auth      AuthConfig      `toml:"auth"`
	Sweeper   SweeperConfig   `toml:"sweeper"`
}

type TLSConfig struct {
	Mode     string `toml:"mode"`      // off, manual, acme
	CertDir  string `toml:"cert_dir"`  // ACME certificate cache
	Email    string `toml:"email"`     // ACME email for Let's Encrypt
	CertFile string `toml:"cert_file"` // manual mode
	KeyFile  string `toml:"key_file"`  // manual mode
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	BaseURL     string `toml:"base_url"`
	MaxBodySize int    `toml:"max_body_size"` // in KB
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string `toml:"cookie_name"`
	MaxAge     int    `toml:"max_age"`   // seconds
	HashKey    string `toml:"hash_key"`  // 32-byte hex string for HMAC signing
	BlockKey   string `toml:"block_key"` // 32-byte hex string for AES encryption (optional)
}

type JWTConfig struct { //nolint:govet // fieldalignment not critical
	Secret         string        `toml:"secret"`
	Method         string        `toml:"method"` // hs256, ed25519
	PrivateKeyFile string        `toml:"private_key_file"`
	PublicKeyFile  string        `toml:"public_key_file"`
	Issuer         string        `toml:"issuer"`
	ExpiresIn      time.Duration `toml:"expires_in"`
}

type OTPConfig struct {
	TTL            time.Duration `toml:"ttl"`
	MaxAttempts    int           `toml:"max_attempts"`
	ResendCooldown time.Duration `toml:"resend_cooldown"`
}

type RateLimitConfig struct {
	Backend     string        `toml:"backend"` // sql, redis
	MaxRequests int           `toml:"max_requests"`
	Window      time.Duration `toml:"window"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	TLS      string `toml:"tls"` // starttls, tls, none
}

type AuthConfig struct {
	RegistrationMode string `toml:"registration_mode"` // open, closed
}

type SweeperConfig struct {
	Interval time.Duration `toml:"interval"`
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		TLS: TLSConfig{
			Mode:     cmd.String("tls-mode"),
			CertDir:  cmd.String("tls-cert-dir"),
			Email:    cmd.String("tls-email"),
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
		},
		JWT: JWTConfig{
			Secret:         cmd.String("jwt-secret"),
			Method:         strings.ToLower(cmd.String("jwt-method")),
			PrivateKeyFile: cmd.String("jwt-private-key-file"),
			PublicKeyFile:  cmd.String("jwt-public-key-file"),
			Issuer:         cmd.String("jwt-issuer"),
			ExpiresIn:      cmd.Duration("jwt-expires-in"),
		},
		OTP: OTPConfig{
			TTL:            cmd.Duration("otp-ttl"),
			MaxAttempts:    int(cmd.Int("otp-max-attempts")),
			ResendCooldown: cmd.Duration("otp-resend-cooldown"),
		},
		RateLimit: RateLimitConfig{
			Backend:     strings.ToLower(cmd.String("ratelimit-backend")),
			MaxRequests: int(cmd.Int("ratelimit-max-requests")),
			Window:      cmd.Duration("ratelimit-window"),
		},
		Redis: RedisConfig{
			Addr:     cmd.String("redis-addr"),
			Password: cmd.String("redis-password"),
			DB:       int(cmd.Int("redis-db")),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      strings.ToLower(cmd.String("smtp-tls")),
		},
		Auth: AuthConfig{
			RegistrationMode: strings.ToLower(cmd.String("registration-mode")),
		},
		Sweeper: SweeperConfig{
			Interval: cmd.Duration("sweep-interval"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	return cfg
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.TLS.Mode {
	case TLSModeOff, TLSModeManual, TLSModeACME:
	default:
		errs = append(errs, fmt.Errorf("unknown TLS mode %q", c.TLS.Mode))
	}
	if c.TLS.Mode == TLSModeManual && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("manual TLS mode requires both cert-file and key-file"))
	}
	if c.TLS.Mode == TLSModeACME && c.TLS.Email == "" {
		errs = append(errs, errors.New("ACME mode requires TLS_EMAIL to be set"))
	}

	switch c.JWT.Method {
	case JWTMethodHS256:
		if c.JWT.Secret == "" {
			errs = append(errs, errors.New("JWT secret is required for hs256"))
		}
	case JWTMethodEd25519:
		if c.JWT.PrivateKeyFile == "" {
			errs = append(errs, errors.New("JWT private key file is required for ed25519"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown JWT method %q", c.JWT.Method))
	}
	if c.JWT.ExpiresIn <= 0 {
		errs = append(errs, errors.New("JWT expiry must be positive"))
	}

	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP ttl must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP max attempts must be at least 1"))
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendSQL:
	case RateLimitBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend requires redis-addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend))
	}
	if c.RateLimit.MaxRequests < 1 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit needs max-requests >= 1 and a positive window"))
	}

	switch c.Auth.RegistrationMode {
	case RegistrationOpen, RegistrationClosed:
	default:
		errs = append(errs, fmt.Errorf("unknown registration mode %q", c.Auth.RegistrationMode))
	}

	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}

	return errors.Join(errs...)
}

// WriteTOML writes the effective configuration with secrets masked.
func (c *Config) WriteTOML(w io.Writer) error {
	masked := *c
	masked.Session.HashKey = mask(masked.Session.HashKey)
	masked.Session.BlockKey = mask(masked.Session.BlockKey)
	masked.JWT.Secret = mask(masked.JWT.Secret)
	masked.Redis.Password = mask(masked.Redis.Password)
	masked.SMTP.Password = mask(masked.SMTP.Password)
	return toml.NewEncoder(w).Encode(masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port
	mode := strings.ToLower(cfg.TLS.Mode)

	if mode == TLSModeACME {
		return fmt.Sprintf("https://%s", host)
	}

	scheme := "http"
	if mode == TLSModeManual {
		scheme = "https"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), altsrctoml.TOML(key, configSource))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.toml",
			Usage:       "Path to configuration file",
			Destination: &configFile,
			Sources:     cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: source("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   64,
			Usage:   "Maximum request body size in KB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN",
			Sources: source("DATABASE_DSN", "database.dsn"),
		},
		&cli.StringFlag{
			Name:    "tls-mode",
			Value:   TLSModeOff,
			Usage:   "TLS mode (off, manual, acme)",
			Sources: source("TLS_MODE", "tls.mode"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-dir",
			Value:   "./data/certs",
			Usage:   "Directory for ACME certificates",
			Sources: source("TLS_CERT_DIR", "tls.cert_dir"),
		},
		&cli.StringFlag{
			Name:    "tls-email",
			Usage:   "Email for ACME/Let's Encrypt registration",
			Sources: source("TLS_EMAIL", "tls.email"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file (manual mode)",
			Sources: source("TLS_CERT_FILE", "tls.cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file (manual mode)",
			Sources: source("TLS_KEY_FILE", "tls.key_file"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: source("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   604800, // 7 days in seconds
			Usage:   "Session max age in seconds",
			Sources: source("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: source("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: source("SESSION_BLOCK_KEY", "session.block_key"),
		},
		// Bearer token flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Shared secret for hs256 bearer tokens",
			Sources: source("JWT_SECRET", "jwt.secret"),
		},
		&cli.StringFlag{
			Name:    "jwt-method",
			Value:   JWTMethodHS256,
			Usage:   "Token signing method (hs256, ed25519)",
			Sources: source("JWT_METHOD", "jwt.method"),
		},
		&cli.StringFlag{
			Name:    "jwt-private-key-file",
			Usage:   "PEM Ed25519 private key (ed25519 method)",
			Sources: source("JWT_PRIVATE_KEY_FILE", "jwt.private_key_file"),
		},
		&cli.StringFlag{
			Name:    "jwt-public-key-file",
			Usage:   "PEM Ed25519 public key (derived from the private key if empty)",
			Sources: source("JWT_PUBLIC_KEY_FILE", "jwt.public_key_file"),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Value:   "authcore",
			Usage:   "Token issuer claim",
			Sources: source("JWT_ISSUER", "jwt.issuer"),
		},
		&cli.DurationFlag{
			Name:    "jwt-expires-in",
			Value:   7 * 24 * time.Hour,
			Usage:   "Bearer token lifetime",
			Sources: source("JWT_EXPIRES_IN", "jwt.expires_in"),
		},
		// One-time code flags
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   10 * time.Minute,
			Usage:   "One-time code lifetime",
			Sources: source("OTP_TTL", "otp.ttl"),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   3,
			Usage:   "Failed attempts allowed per code",
			Sources: source("OTP_MAX_ATTEMPTS", "otp.max_attempts"),
		},
		&cli.DurationFlag{
			Name:    "otp-resend-cooldown",
			Value:   60 * time.Second,
			Usage:   "Advisory client cooldown before resending",
			Sources: source("OTP_RESEND_COOLDOWN", "otp.resend_cooldown"),
		},
		// Rate limit flags
		&cli.StringFlag{
			Name:    "ratelimit-backend",
			Value:   RateLimitBackendSQL,
			Usage:   "Rate limit store (sql, redis)",
			Sources: source("RATELIMIT_BACKEND", "ratelimit.backend"),
		},
		&cli.IntFlag{
			Name:    "ratelimit-max-requests",
			Value:   3,
			Usage:   "Code requests allowed per email and window",
			Sources: source("RATELIMIT_MAX_REQUESTS", "ratelimit.max_requests"),
		},
		&cli.DurationFlag{
			Name:    "ratelimit-window",
			Value:   time.Hour,
			Usage:   "Rate limit window",
			Sources: source("RATELIMIT_WINDOW", "ratelimit.window"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Value:   "localhost:6379",
			Usage:   "Redis address (redis backend)",
			Sources: source("REDIS_ADDR", "redis.addr"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: source("REDIS_PASSWORD", "redis.password"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Sources: source("REDIS_DB", "redis.db"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (codes are logged when empty)",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: source("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Counsel Point",
			Usage:   "Sender display name",
			Sources: source("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.StringFlag{
			Name:    "smtp-tls",
			Value:   "starttls",
			Usage:   "SMTP TLS policy (starttls, tls, none)",
			Sources: source("SMTP_TLS", "smtp.tls"),
		},
		&cli.StringFlag{
			Name:    "registration-mode",
			Value:   RegistrationOpen,
			Usage:   "Account creation on first verify (open, closed)",
			Sources: source("REGISTRATION_MODE", "auth.registration_mode"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Value:   5 * time.Minute,
			Usage:   "Interval for reaping expired codes and rate limits",
			Sources: source("SWEEP_INTERVAL", "sweeper.interval"),
		},
	}
}
