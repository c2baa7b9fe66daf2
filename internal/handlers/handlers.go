// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/counselpoint/authcore/internal/repository"
	"github.com/labstack/echo/v4"
)

// Handlers contains the unauthenticated utility handlers.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Health reports whether the service and its database are reachable.
func (h *Handlers) Health(c echo.Context) error {
	if h.repo != nil {
		if err := h.repo.DB().PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
