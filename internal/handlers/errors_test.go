// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"codeberg.org/counselpoint/authcore/internal/auth"
	"codeberg.org/counselpoint/authcore/internal/handlers"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/otp"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"codeberg.org/counselpoint/authcore/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", passwordless.ErrInvalidCode, http.StatusBadRequest, handlers.CodeValidation},
		{"invalid code", otp.ErrInvalidOrExpiredCode, http.StatusUnauthorized, handlers.CodeInvalidOrExpired},
		{"exhausted", otp.ErrAttemptsExhausted, http.StatusUnauthorized, handlers.CodeAttemptsExhausted},
		{"unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized, handlers.CodeUnauthenticated},
		{"forbidden", &auth.ForbiddenError{Required: []models.Role{models.RoleAdmin}}, http.StatusForbidden, handlers.CodeForbidden},
		{"rate limited", &ratelimit.LimitedError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, handlers.CodeRateLimited},
		{"delivery", fmt.Errorf("%w: smtp down", passwordless.ErrDeliveryFailed), http.StatusBadGateway, handlers.CodeDeliveryFailed},
		{"not found", repository.ErrNotFound, http.StatusNotFound, handlers.CodeNotFound},
		{"echo", echo.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "request_error"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, handlers.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/", nil)

			err := handlers.WriteError(c, tt.err)

			require.NoError(t, err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec.Body.String())["error"])
		})
	}
}

func TestWriteError_Forbidden_Message(t *testing.T) {
	c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/", nil)

	err := handlers.WriteError(c, &auth.ForbiddenError{Required: []models.Role{models.RoleAdmin}})

	require.NoError(t, err)
	assert.Equal(t, "Admin access required", decode(t, rec.Body.String())["message"])
}

func TestWriteError_RetryAfter(t *testing.T) {
	c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/", nil)

	err := handlers.WriteError(c, &ratelimit.LimitedError{RetryAfter: 90 * time.Second})

	require.NoError(t, err)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.InDelta(t, 2, decode(t, rec.Body.String())["retry_after_minutes"], 0)
}

func TestHTTPErrorHandler(t *testing.T) {
	c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/missing", nil)

	handlers.HTTPErrorHandler(echo.ErrNotFound, c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found","message":"Not Found"}`, rec.Body.String())
}
