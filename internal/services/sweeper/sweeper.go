// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package sweeper periodically removes expired codes and rate limit windows.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Repository deletes expired records.
type Repository interface {
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the cleanup on an interval.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	now      func() time.Time
}

// New creates a Sweeper.
func New(repo Repository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{repo: repo, interval: interval, now: time.Now}
}

// SetClock replaces the time source used to decide what has expired.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes everything that expired before now. Errors are logged.
func (s *Sweeper) Sweep(ctx context.Context) (otps, limits int64) {
	now := s.now()

	otps, err := s.repo.DeleteExpiredOTPs(ctx, now)
	if err != nil && ctx.Err() == nil {
		slog.Error("failed to delete expired codes", "error", err)
	}
	limits, err = s.repo.DeleteExpiredRateLimits(ctx, now)
	if err != nil && ctx.Err() == nil {
		slog.Error("failed to delete expired rate limits", "error", err)
	}

	if otps > 0 || limits > 0 {
		slog.Debug("expired records removed", "otp_codes", otps, "rate_limits", limits)
	}
	return otps, limits
}
