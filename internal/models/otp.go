// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTPCode stores a hashed one-time login code.
// Several historical rows may exist per email; at most one is live.
type OTPCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"` // SHA256 hex
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the code is past its expiry at now.
func (o *OTPCode) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// IsLive reports whether the code can still be verified at now.
func (o *OTPCode) IsLive(now time.Time) bool {
	return !o.Used && !o.IsExpired(now)
}
