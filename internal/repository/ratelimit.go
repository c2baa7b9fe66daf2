// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/counselpoint/authcore/internal/models"
)

type rateLimitRow struct {
	Email        string `db:"email"`
	RequestCount int    `db:"request_count"`
	WindowStart  int64  `db:"window_start"`
	ExpiresAt    int64  `db:"expires_at"`
}

func (r rateLimitRow) model() *models.RateLimit {
	return &models.RateLimit{
		Email:        r.Email,
		RequestCount: r.RequestCount,
		WindowStart:  fromMillis(r.WindowStart),
		ExpiresAt:    fromMillis(r.ExpiresAt),
	}
}

// The SET expressions all read the pre-update row, so a stale window is
// reset and a live one incremented by the same statement.
const hitRateLimitQuery = `
INSERT INTO rate_limits (email, request_count, window_start, expires_at)
VALUES (?, 1, ?, ?)
ON CONFLICT (email) DO UPDATE SET
    request_count = CASE WHEN excluded.window_start - rate_limits.window_start >= ?
                         THEN 1 ELSE rate_limits.request_count + 1 END,
    window_start  = CASE WHEN excluded.window_start - rate_limits.window_start >= ?
                         THEN excluded.window_start ELSE rate_limits.window_start END,
    expires_at    = CASE WHEN excluded.window_start - rate_limits.window_start >= ?
                         THEN excluded.expires_at ELSE rate_limits.expires_at END
RETURNING email, request_count, window_start, expires_at`

// HitRateLimit counts one request for email in a single atomic upsert and
// returns the resulting window.
func (r *Repository) HitRateLimit(ctx context.Context, email string, now time.Time, window time.Duration) (*models.RateLimit, error) {
	nowMS := toMillis(now)
	windowMS := window.Milliseconds()

	var row rateLimitRow
	if err := r.db.GetContext(ctx, &row, hitRateLimitQuery,
		email, nowMS, nowMS+windowMS, windowMS, windowMS, windowMS); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// GetRateLimit retrieves the counter of email.
func (r *Repository) GetRateLimit(ctx context.Context, email string) (*models.RateLimit, error) {
	var row rateLimitRow
	err := r.db.GetContext(ctx, &row,
		`SELECT email, request_count, window_start, expires_at FROM rate_limits WHERE email = ?`, email)
	if err != nil {
		return nil, wrapError(err)
	}
	return row.model(), nil
}

// DeleteRateLimit removes the counter of email.
func (r *Repository) DeleteRateLimit(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE email = ?`, email)
	return err
}

// DeleteExpiredRateLimits removes counters whose window ended before now.
func (r *Repository) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
