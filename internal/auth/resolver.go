// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/session"
	"codeberg.org/counselpoint/authcore/internal/services/token"
)

// SessionParser reads the cookie session of a request.
type SessionParser interface {
	Parse(r *http.Request) (*session.Data, error)
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

// UserDirectory looks up users by id.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Resolver turns a request into a Principal.
type Resolver struct {
	sessions SessionParser
	tokens   TokenVerifier
	users    UserDirectory
}

// NewResolver creates a Resolver. sessions may be nil to disable cookies.
func NewResolver(sessions SessionParser, tokens TokenVerifier, users UserDirectory) *Resolver {
	return &Resolver{sessions: sessions, tokens: tokens, users: users}
}

// Resolve authenticates r. The cookie session wins over a bearer token.
func (res *Resolver) Resolve(r *http.Request) (*Principal, error) {
	if res.sessions != nil {
		data, err := res.sessions.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("reading session: %w", err)
		}
		if data != nil {
			return principalFromSession(data), nil
		}
	}

	raw, ok := bearerToken(r.Header)
	if !ok {
		raw, ok = bearerToken(IncomingHeaders(r.Context()))
	}
	if !ok {
		return nil, ErrUnauthenticated
	}

	return res.resolveBearer(r.Context(), raw)
}

func (res *Resolver) resolveBearer(ctx context.Context, raw string) (*Principal, error) {
	claims, err := res.tokens.Verify(raw)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := res.users.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	return principalFromUser(user, SourceBearer), nil
}

func bearerToken(h http.Header) (string, bool) {
	if h == nil {
		return "", false
	}
	scheme, value, found := strings.Cut(strings.TrimSpace(h.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
