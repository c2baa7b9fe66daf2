// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit

import (
	"context"
	"time"

	"codeberg.org/counselpoint/authcore/internal/models"
)

// SQLRepository is the persistence used by SQLStore.
type SQLRepository interface {
	HitRateLimit(ctx context.Context, email string, now time.Time, window time.Duration) (*models.RateLimit, error)
	DeleteRateLimit(ctx context.Context, email string) error
}

// SQLStore keeps counters in the rate_limits table.
type SQLStore struct {
	repo SQLRepository
}

// NewSQLStore creates a SQLStore.
func NewSQLStore(repo SQLRepository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Hit, error) {
	rl, err := s.repo.HitRateLimit(ctx, key, now, window)
	if err != nil {
		return Hit{}, err
	}
	return Hit{Count: rl.RequestCount, WindowStart: rl.WindowStart}, nil
}

func (s *SQLStore) Reset(ctx context.Context, key string) error {
	return s.repo.DeleteRateLimit(ctx, key)
}
