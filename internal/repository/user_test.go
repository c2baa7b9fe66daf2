// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"testing"

	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	phone := "+49 30 1234567"
	user := &models.User{Email: "client@example.com", Name: "Client", Phone: &phone}
	err := repo.CreateUser(ctx, user)

	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role, "role defaults to user")
	assert.False(t, user.CreatedAt.IsZero())
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{Email: "client@example.com"}))

	err := repo.CreateUser(ctx, &models.User{Email: "client@example.com"})

	assert.Error(t, err)
}

func TestCreateUser_InvalidRole(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	err := repo.CreateUser(context.Background(), &models.User{Email: "x@example.com", Role: "root"})

	assert.Error(t, err)
}

func TestGetUserByID(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	created := testutil.NewTestUser(t, repo, "counselor@example.com", models.RoleCounselor)

	retrieved, err := repo.GetUserByID(ctx, created.ID)

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
	assert.Equal(t, "counselor@example.com", retrieved.Email)
	assert.Equal(t, models.RoleCounselor, retrieved.Role)
	assert.Nil(t, retrieved.Phone)
	assert.WithinDuration(t, created.CreatedAt, retrieved.CreatedAt, 0)
}

func TestGetUserByID_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetUserByID(context.Background(), 999)

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetUserByEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	created := testutil.NewTestUser(t, repo, "client@example.com", models.RoleUser)

	retrieved, err := repo.GetUserByEmail(context.Background(), "client@example.com")

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetUserByEmail(context.Background(), "nobody@example.com")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	first := testutil.NewTestUser(t, repo, "a@example.com", models.RoleUser)
	second := testutil.NewTestUser(t, repo, "b@example.com", models.RoleAdmin)

	users, err = repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, second.ID, users[0].ID)
	assert.Equal(t, first.ID, users[1].ID)
}

func TestCountUsersByRole(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	testutil.NewTestUser(t, repo, "a@example.com", models.RoleAdmin)
	testutil.NewTestUser(t, repo, "b@example.com", models.RoleUser)
	testutil.NewTestUser(t, repo, "c@example.com", models.RoleUser)

	admins, err := repo.CountUsersByRole(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)

	users, err := repo.CountUsersByRole(ctx, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, int64(2), users)
}

func TestSetUserRole(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@example.com", models.RoleUser)

	require.NoError(t, repo.SetUserRole(ctx, user.ID, models.RoleCounselor))

	retrieved, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCounselor, retrieved.Role)
}

func TestSetUserRole_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	err := repo.SetUserRole(context.Background(), 42, models.RoleAdmin)

	assert.ErrorIs(t, err, repository.ErrNotFound)
}
