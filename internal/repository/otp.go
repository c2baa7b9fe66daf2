// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/counselpoint/authcore/internal/models"
)

type otpRow struct {
	ID        int64  `db:"id"`
	Email     string `db:"email"`
	CodeHash  string `db:"code_hash"`
	ExpiresAt int64  `db:"expires_at"`
	Used      bool   `db:"used"`
	Attempts  int    `db:"attempts"`
	CreatedAt int64  `db:"created_at"`
}

func (o otpRow) model() *models.OTPCode {
	return &models.OTPCode{
		ID:        o.ID,
		Email:     o.Email,
		CodeHash:  o.CodeHash,
		ExpiresAt: fromMillis(o.ExpiresAt),
		Used:      o.Used,
		Attempts:  o.Attempts,
		CreatedAt: fromMillis(o.CreatedAt),
	}
}

// ReplaceOTP invalidates every live code of email and stores a new one,
// in a single transaction.
func (r *Repository) ReplaceOTP(ctx context.Context, email, codeHash string, now, expiresAt time.Time) (*models.OTPCode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1 WHERE email = ? AND used = 0 AND expires_at > ?`,
		email, toMillis(now)); err != nil {
		return nil, fmt.Errorf("invalidating previous codes: %w", err)
	}

	row := otpRow{
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: toMillis(expiresAt),
		CreatedAt: toMillis(now),
	}
	if err := tx.GetContext(ctx, &row.ID,
		`INSERT INTO otp_codes (email, code_hash, expires_at, used, attempts, created_at)
		 VALUES (?, ?, ?, 0, 0, ?) RETURNING id`,
		row.Email, row.CodeHash, row.ExpiresAt, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return row.model(), nil
}

// GetLatestLiveOTP returns the most recent unused, unexpired code of email.
func (r *Repository) GetLatestLiveOTP(ctx context.Context, email string, now time.Time) (*models.OTPCode, error) {
	var row otpRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, email, code_hash, expires_at, used, attempts, created_at
		 FROM otp_codes
		 WHERE email = ? AND used = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		email, toMillis(now))
	if err != nil {
		return nil, wrapError(err)
	}
	return row.model(), nil
}

// GetOTP retrieves a code by ID regardless of its state.
func (r *Repository) GetOTP(ctx context.Context, id int64) (*models.OTPCode, error) {
	var row otpRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, email, code_hash, expires_at, used, attempts, created_at FROM otp_codes WHERE id = ?`, id)
	if err != nil {
		return nil, wrapError(err)
	}
	return row.model(), nil
}

// IncrementOTPAttempts records a failed attempt on an unused code unless the
// cap is already reached, and returns the new attempt count. ErrNotFound means
// the cap was hit or the code was consumed meanwhile.
func (r *Repository) IncrementOTPAttempts(ctx context.Context, id int64, maxAttempts int) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = ? AND used = 0 AND attempts < ? RETURNING attempts`,
		id, maxAttempts)
	if err != nil {
		return 0, wrapError(err)
	}
	return attempts, nil
}

// ConsumeOTP flips used from false to true. It reports false when the code
// was already used, has expired or reached maxAttempts failed attempts, so a
// double submit can win only once and parallel guesses cannot outrun the cap.
func (r *Repository) ConsumeOTP(ctx context.Context, id int64, now time.Time, maxAttempts int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1 WHERE id = ? AND used = 0 AND expires_at > ? AND attempts < ?`,
		id, toMillis(now), maxAttempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateOTPs marks every live code of email as used.
func (r *Repository) InvalidateOTPs(ctx context.Context, email string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1 WHERE email = ? AND used = 0 AND expires_at > ?`,
		email, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredOTPs physically removes codes that expired before now.
func (r *Repository) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
