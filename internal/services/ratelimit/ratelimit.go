// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit implements a per-email fixed-window request limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// DefaultMaxRequests is the number of requests allowed per window.
	DefaultMaxRequests = 3
	// DefaultWindow is the window length.
	DefaultWindow = time.Hour
)

// ErrRateLimited matches every *LimitedError.
var ErrRateLimited = errors.New("rate limited")

// LimitedError is returned when a request exceeds the limit.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %d minutes", e.RetryAfterMinutes())
}

// Is makes errors.Is(err, ErrRateLimited) work.
func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterMinutes returns the wait in whole minutes, rounded up.
func (e *LimitedError) RetryAfterMinutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// RetryAfterSeconds returns the wait in whole seconds, rounded up.
func (e *LimitedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Hit is the counter state after one increment.
type Hit struct {
	Count       int
	WindowStart time.Time
}

// Store increments counters atomically. Hit starts a new window with a count
// of one when the stored window is older than window.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Hit, error)
	Reset(ctx context.Context, key string) error
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed     bool
	RetryAfter  time.Duration
	Count       int
	WindowStart time.Time
}

// Err returns a *LimitedError for denied decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitedError{RetryAfter: d.RetryAfter}
}

// Limiter applies the fixed-window policy on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume counts one request for email and reports whether it is
// within maxRequests for the current window. Denied requests also increment
// the stored count, so Count keeps growing past maxRequests while a caller
// retries. RetryAfter is always measured from the window start, and repeated
// denials never extend the wait.
func (l *Limiter) CheckAndConsume(ctx context.Context, email string, maxRequests int, window time.Duration) (Decision, error) {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}

	now := l.now()
	hit, err := l.store.Hit(ctx, Key(email), now, window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}

	d := Decision{
		Allowed:     hit.Count <= maxRequests,
		Count:       hit.Count,
		WindowStart: hit.WindowStart,
	}
	if !d.Allowed {
		d.RetryAfter = hit.WindowStart.Add(window).Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}

// Reset clears the counter for email.
func (l *Limiter) Reset(ctx context.Context, email string) error {
	if err := l.store.Reset(ctx, Key(email)); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Key normalizes an email into a limiter key.
func Key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
