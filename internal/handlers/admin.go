// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"strconv"

	"codeberg.org/counselpoint/authcore/internal/auth"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"github.com/labstack/echo/v4"
)

// AdminHandlers contains the role-gated management endpoints.
type AdminHandlers struct {
	repo    *repository.Repository
	limiter *ratelimit.Limiter
}

// NewAdmin creates a new AdminHandlers instance.
func NewAdmin(repo *repository.Repository, limiter *ratelimit.Limiter) *AdminHandlers {
	return &AdminHandlers{repo: repo, limiter: limiter}
}

// RoleRequest is the request body for changing a role.
type RoleRequest struct {
	Role string `json:"role"`
}

// ListUsers returns all users, newest first.
func (h *AdminHandlers) ListUsers(c echo.Context) error {
	users, err := h.repo.ListUsers(c.Request().Context())
	if err != nil {
		return WriteError(c, err)
	}
	if users == nil {
		users = []models.User{}
	}
	return c.JSON(http.StatusOK, map[string]any{"users": users})
}

// SetRole changes the role of a user.
func (h *AdminHandlers) SetRole(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return WriteError(c, &passwordless.ValidationError{Field: "id", Message: "invalid user id"})
	}

	var req RoleRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, badRequest("invalid request"))
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		return WriteError(c, &passwordless.ValidationError{Field: "role", Message: "role must be user, admin or counselor"})
	}

	ctx := c.Request().Context()
	if err := h.repo.SetUserRole(ctx, id, role); err != nil {
		return WriteError(c, err)
	}
	user, err := h.repo.GetUserByID(ctx, id)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// ResetRateLimit clears the code request counter of an email address.
func (h *AdminHandlers) ResetRateLimit(c echo.Context) error {
	email, err := passwordless.NormalizeEmail(c.Param("email"))
	if err != nil {
		return WriteError(c, err)
	}
	if err := h.limiter.Reset(c.Request().Context(), email); err != nil {
		return WriteError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CounselorPing confirms that the caller passed the counselor gate.
func (h *AdminHandlers) CounselorPing(c echo.Context) error {
	p := auth.GetPrincipal(c.Request().Context())
	if p == nil {
		return WriteError(c, auth.ErrUnauthenticated)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"role":   p.Role,
	})
}
