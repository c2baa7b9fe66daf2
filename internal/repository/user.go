// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/counselpoint/authcore/internal/models"
)

const userColumns = `id, email, name, role, phone, image, created_at, updated_at`

// CreateUser inserts a user and fills in its ID and timestamps.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	return r.db.GetContext(ctx, &user.ID,
		`INSERT INTO users (email, name, role, phone, image, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		user.Email, user.Name, user.Role, user.Phone, user.Image, user.CreatedAt, user.UpdatedAt)
}

// GetUserByID retrieves a user by their ID
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by their (normalized) email address
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by creation date (newest first)
func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsersByRole returns the number of users with the given role
func (r *Repository) CountUsersByRole(ctx context.Context, role models.Role) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM users WHERE role = ?`, role); err != nil {
		return 0, err
	}
	return count, nil
}

// SetUserRole changes the role of a user
func (r *Repository) SetUserRole(ctx context.Context, id int64, role models.Role) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
