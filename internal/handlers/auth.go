// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codeberg.org/counselpoint/authcore/internal/auth"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/session"
	"github.com/labstack/echo/v4"
)

// Sign-in modes of the verify endpoint.
const (
	ModeToken  = "token"
	ModeCookie = "cookie"
)

// AuthHandlers contains handlers for the passwordless sign-in.
type AuthHandlers struct {
	flow     *passwordless.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(flow *passwordless.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{
		flow:     flow,
		sessions: sessions,
	}
}

// CodeRequest is the request body for requesting a code.
type CodeRequest struct {
	Email string `json:"email"`
}

// CodeResponse acknowledges an accepted code request.
type CodeResponse struct {
	Status             string    `json:"status"`
	ExpiresAt          time.Time `json:"expires_at"`
	ResendAfterSeconds int       `json:"resend_after"`
}

// VerifyRequest is the request body for submitting a code.
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Mode  string `json:"mode"`
}

// VerifyResponse is returned after a successful sign-in.
type VerifyResponse struct {
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	User      *models.User `json:"user"`
}

// RequestCode sends a sign-in code.
func (h *AuthHandlers) RequestCode(c echo.Context) error {
	return h.issue(c, h.flow.RequestCode)
}

// ResendCode replaces the outstanding code with a new one.
func (h *AuthHandlers) ResendCode(c echo.Context) error {
	return h.issue(c, h.flow.ResendCode)
}

func (h *AuthHandlers) issue(c echo.Context, fn func(ctx context.Context, email string) (*passwordless.Requested, error)) error {
	var req CodeRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, badRequest("invalid request"))
	}

	res, err := fn(c.Request().Context(), req.Email)
	if err != nil {
		return WriteError(c, err)
	}

	return c.JSON(http.StatusAccepted, CodeResponse{
		Status:             "sent",
		ExpiresAt:          res.ExpiresAt,
		ResendAfterSeconds: int(res.ResendAfter / time.Second),
	})
}

// VerifyCode signs the user in with a code. The default mode returns a
// bearer token, cookie mode sets the session cookie instead.
func (h *AuthHandlers) VerifyCode(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, badRequest("invalid request"))
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "":
		mode = ModeToken
	case ModeToken, ModeCookie:
	default:
		return WriteError(c, &passwordless.ValidationError{Field: "mode", Message: "mode must be token or cookie"})
	}

	res, err := h.flow.VerifyCode(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return WriteError(c, err)
	}

	if mode == ModeCookie {
		cookie, err := h.sessions.Create(res.User)
		if err != nil {
			return WriteError(c, err)
		}
		c.SetCookie(cookie)
		return c.JSON(http.StatusOK, VerifyResponse{User: res.User})
	}

	return c.JSON(http.StatusOK, VerifyResponse{
		Token:     res.Token,
		ExpiresAt: &res.ExpiresAt,
		User:      res.User,
	})
}

// Logout clears the session cookie. Bearer tokens expire on their own.
func (h *AuthHandlers) Logout(c echo.Context) error {
	c.SetCookie(h.sessions.Clear())
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated principal.
func (h *AuthHandlers) Me(c echo.Context) error {
	p := auth.GetPrincipal(c.Request().Context())
	if p == nil {
		return WriteError(c, auth.ErrUnauthenticated)
	}
	return c.JSON(http.StatusOK, p)
}
