// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package passwordless runs the email one-time code sign-in flow.
package passwordless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/otp"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"codeberg.org/counselpoint/authcore/internal/services/token"
)

const maxEmailLength = 254

// CodeStore issues and verifies one-time codes.
type CodeStore interface {
	Issue(ctx context.Context, email string) (string, time.Time, error)
	Resend(ctx context.Context, email string) (string, time.Time, error)
	Verify(ctx context.Context, email, code string) error
	TTL() time.Duration
}

// RateLimiter limits code requests per email.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, email string, maxRequests int, window time.Duration) (ratelimit.Decision, error)
}

// Notifier delivers a code to its recipient.
type Notifier interface {
	SendCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// Users finds and creates accounts.
type Users interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Config tunes the flow.
type Config struct {
	MaxRequests      int
	Window           time.Duration
	ResendCooldown   time.Duration
	RegistrationMode string
}

// Requested describes an accepted code request.
type Requested struct {
	ExpiresAt   time.Time
	ResendAfter time.Duration
}

// Result is a successful sign-in.
type Result struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// Service orchestrates rate limiting, code issuance, delivery and sign-in.
type Service struct {
	codes    CodeStore
	limiter  RateLimiter
	notifier Notifier
	users    Users
	tokens   token.Issuer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(codes CodeStore, limiter RateLimiter, notifier Notifier, users Users, tokens token.Issuer, cfg Config) *Service {
	if cfg.RegistrationMode == "" {
		cfg.RegistrationMode = config.RegistrationOpen
	}
	return &Service{
		codes:    codes,
		limiter:  limiter,
		notifier: notifier,
		users:    users,
		tokens:   tokens,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetLogger replaces the audit logger.
func (s *Service) SetLogger(l *slog.Logger) {
	s.logger = l
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RequestCode sends a new code to email.
func (s *Service) RequestCode(ctx context.Context, email string) (*Requested, error) {
	return s.issue(ctx, email, false)
}

// ResendCode replaces the outstanding code of email with a new one.
// It is rate limited like RequestCode.
func (s *Service) ResendCode(ctx context.Context, email string) (*Requested, error) {
	return s.issue(ctx, email, true)
}

func (s *Service) issue(ctx context.Context, rawEmail string, resend bool) (*Requested, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	decision, err := s.limiter.CheckAndConsume(ctx, email, s.cfg.MaxRequests, s.cfg.Window)
	if err != nil {
		return nil, err
	}
	if err := decision.Err(); err != nil {
		s.logger.WarnContext(ctx, "otp request rate limited",
			"email", email,
			"count", decision.Count,
			"retry_after", decision.RetryAfter,
		)
		return nil, err
	}

	if s.cfg.RegistrationMode == config.RegistrationClosed {
		_, err := s.users.GetUserByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.InfoContext(ctx, "otp request for unknown email ignored", "email", email)
			return &Requested{
				ExpiresAt:   s.now().Add(s.codes.TTL()),
				ResendAfter: s.cfg.ResendCooldown,
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("looking up user: %w", err)
		}
	}

	issue := s.codes.Issue
	if resend {
		issue = s.codes.Resend
	}
	code, expiresAt, err := issue(ctx, email)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "otp issued", "email", email, "expires_at", expiresAt, "resend", resend)

	if err := s.notifier.SendCode(ctx, email, code, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "otp delivery failed", "email", email, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return &Requested{ExpiresAt: expiresAt, ResendAfter: s.cfg.ResendCooldown}, nil
}

// VerifyCode checks code and signs the user in, creating the account on
// first sign-in when registration is open.
func (s *Service) VerifyCode(ctx context.Context, rawEmail, code string) (*Result, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if !otp.ValidCode(code) {
		return nil, ErrInvalidCode
	}

	if err := s.codes.Verify(ctx, email, code); err != nil {
		s.logger.InfoContext(ctx, "otp verify failed", "email", email, "error", err)
		return nil, err
	}

	user, err := s.findOrCreateUser(ctx, email)
	if err != nil {
		return nil, err
	}

	signed, expiresAt, err := s.tokens.Mint(token.Subject{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}

	s.logger.InfoContext(ctx, "login success", "user_id", user.ID, "role", user.Role)
	return &Result{User: user, Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if s.cfg.RegistrationMode == config.RegistrationClosed {
		return nil, otp.ErrInvalidOrExpiredCode
	}

	user = &models.User{Email: email, Role: models.RoleUser}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// Lost a race against a concurrent first sign-in.
		if existing, getErr := s.users.GetUserByEmail(ctx, email); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "email", email)
	return user, nil
}

// NormalizeEmail validates a bare email address and returns it trimmed and lowercased.
func NormalizeEmail(s string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(s))
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
