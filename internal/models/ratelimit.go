// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// RateLimit is the fixed-window request counter for one email.
type RateLimit struct {
	Email        string    `json:"email"`
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Stale reports whether the counting window has elapsed at now.
func (r *RateLimit) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) >= window
}
