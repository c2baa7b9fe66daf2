// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues and verifies one-time sign-in codes.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
)

const (
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxAttempts is the number of failed verifications a code tolerates.
	DefaultMaxAttempts = 3
)

var (
	// ErrInvalidOrExpiredCode is returned for a wrong, used, expired or unknown code.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrAttemptsExhausted is returned once a code has used up its attempts.
	ErrAttemptsExhausted = errors.New("too many failed attempts")
)

// Repository persists one-time codes.
type Repository interface {
	ReplaceOTP(ctx context.Context, email, codeHash string, now, expiresAt time.Time) (*models.OTPCode, error)
	GetLatestLiveOTP(ctx context.Context, email string, now time.Time) (*models.OTPCode, error)
	GetOTP(ctx context.Context, id int64) (*models.OTPCode, error)
	IncrementOTPAttempts(ctx context.Context, id int64, maxAttempts int) (int, error)
	ConsumeOTP(ctx context.Context, id int64, now time.Time, maxAttempts int) (bool, error)
}

// Store issues and verifies codes.
type Store struct {
	repo        Repository
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	generate    func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the code lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts sets the number of failed verifications per code.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithGenerator replaces the code generator.
func WithGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.generate = gen }
}

// NewStore creates a Store.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:        repo,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		generate:    GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured code lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new code for email and invalidates all earlier ones.
// The plaintext code is returned once and never stored.
func (s *Store) Issue(ctx context.Context, email string) (string, time.Time, error) {
	email = normalize(email)

	code, err := s.generate()
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	if _, err := s.repo.ReplaceOTP(ctx, email, HashCode(code), now, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store code: %w", err)
	}

	return code, expiresAt, nil
}

// Resend issues a fresh code. It behaves exactly like Issue.
func (s *Store) Resend(ctx context.Context, email string) (string, time.Time, error) {
	return s.Issue(ctx, email)
}

// Verify checks code against the newest live code of email and consumes it
// on success. A failed attempt only counts against that code.
func (s *Store) Verify(ctx context.Context, email, code string) error {
	email = normalize(email)
	now := s.now()

	record, err := s.repo.GetLatestLiveOTP(ctx, email, now)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidOrExpiredCode
	}
	if err != nil {
		return fmt.Errorf("failed to load code: %w", err)
	}

	if record.Attempts >= s.maxAttempts {
		return ErrAttemptsExhausted
	}

	if !matches(code, record.CodeHash) {
		if _, err := s.repo.IncrementOTPAttempts(ctx, record.ID, s.maxAttempts); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to count attempt: %w", err)
		}
		return ErrInvalidOrExpiredCode
	}

	consumed, err := s.repo.ConsumeOTP(ctx, record.ID, now, s.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	if !consumed {
		return s.consumeFailure(ctx, record.ID)
	}

	return nil
}

// consumeFailure tells apart a record exhausted by concurrent failed
// attempts from one that was used or expired in the meantime.
func (s *Store) consumeFailure(ctx context.Context, id int64) error {
	record, err := s.repo.GetOTP(ctx, id)
	if err == nil && !record.Used && record.Attempts >= s.maxAttempts {
		return ErrAttemptsExhausted
	}
	return ErrInvalidOrExpiredCode
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
