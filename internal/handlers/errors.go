// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"codeberg.org/counselpoint/authcore/internal/auth"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/otp"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"github.com/labstack/echo/v4"
)

// Error codes of the JSON error body.
const (
	CodeValidation        = "validation_error"
	CodeInvalidOrExpired  = "invalid_or_expired"
	CodeAttemptsExhausted = "attempts_exhausted"
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limited"
	CodeDeliveryFailed    = "delivery_failed"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
	Hint              string `json:"hint,omitempty"`
}

// WriteError maps err to a status code and JSON body.
func WriteError(c echo.Context, err error) error {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
	}

	return c.JSON(status, body)
}

func classify(err error) (int, ErrorResponse) {
	var (
		validation *passwordless.ValidationError
		limited    *ratelimit.LimitedError
		forbidden  *auth.ForbiddenError
		httpErr    *echo.HTTPError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: CodeValidation, Message: validation.Message, Field: validation.Field}
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, ErrorResponse{
			Error:             CodeRateLimited,
			Message:           "Too many code requests. Please try again later.",
			RetryAfterMinutes: limited.RetryAfterMinutes(),
		}
	case errors.Is(err, otp.ErrAttemptsExhausted):
		return http.StatusUnauthorized, ErrorResponse{
			Error:   CodeAttemptsExhausted,
			Message: "Too many failed attempts for this code.",
			Hint:    "Request a new code.",
		}
	case errors.Is(err, otp.ErrInvalidOrExpiredCode):
		return http.StatusUnauthorized, ErrorResponse{Error: CodeInvalidOrExpired, Message: "The code is invalid or has expired."}
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: CodeUnauthenticated, Message: "Authentication required."}
	case errors.As(err, &forbidden):
		return http.StatusForbidden, ErrorResponse{Error: CodeForbidden, Message: forbidden.Error()}
	case errors.Is(err, passwordless.ErrDeliveryFailed):
		return http.StatusBadGateway, ErrorResponse{Error: CodeDeliveryFailed, Message: "The code could not be delivered. Please try again."}
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: "Not found."}
	case errors.As(err, &httpErr):
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			msg = s
		}
		return httpErr.Code, ErrorResponse{Error: httpCode(httpErr.Code), Message: msg}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "Internal server error."}
	}
}

func httpCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return "request_error"
}

// HTTPErrorHandler renders errors returned by handlers and middleware as JSON.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if werr := WriteError(c, err); werr != nil {
		slog.Error("failed to write error response", "error", werr)
	}
}

func badRequest(message string) error {
	return &passwordless.ValidationError{Field: "body", Message: message}
}
