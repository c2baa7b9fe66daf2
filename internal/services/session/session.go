// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session stores the browser sign-in in a signed cookie.
package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/models"
	"github.com/gorilla/securecookie"
)

// Data is the content of a session cookie.
type Data struct {
	UserID    int64       `json:"uid"`
	Email     string      `json:"email"`
	Name      string      `json:"name,omitempty"`
	Role      models.Role `json:"role"`
	Image     *string     `json:"image,omitempty"`
	ExpiresAt time.Time   `json:"exp"`
}

// Manager creates and parses session cookies.
type Manager struct {
	codec  *securecookie.SecureCookie
	name   string
	maxAge int
	secure bool
	now    func() time.Time
}

// NewManager creates a Manager. An empty hash key generates a random one,
// which invalidates all sessions on restart.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey, "hash")
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		slog.Warn("no session hash key configured, generating a random one")
		hashKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil {
			return nil, errors.New("generating session hash key failed")
		}
	}

	blockKey, err := decodeKey(cfg.BlockKey, "block")
	if err != nil {
		return nil, err
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(cfg.MaxAge)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &Manager{
		codec:  codec,
		name:   cfg.CookieName,
		maxAge: cfg.MaxAge,
		secure: secure,
		now:    time.Now,
	}, nil
}

func decodeKey(s, kind string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid session %s key: %w", kind, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid session %s key: must be 32 bytes, got %d", kind, len(key))
	}
	return key, nil
}

// SetClock replaces the time source used for expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.name
}

// Create returns a session cookie for user.
func (m *Manager) Create(user *models.User) (*http.Cookie, error) {
	data := Data{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Image:     user.Image,
		ExpiresAt: m.now().Add(time.Duration(m.maxAge) * time.Second).UTC(),
	}

	value, err := m.codec.Encode(m.name, data)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}

	return m.cookie(value, m.maxAge), nil
}

// Parse returns the session carried by r, or nil when there is none
// or it is invalid or expired.
func (m *Manager) Parse(r *http.Request) (*Data, error) {
	c, err := r.Cookie(m.name)
	if errors.Is(err, http.ErrNoCookie) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data Data
	if err := m.codec.Decode(m.name, c.Value, &data); err != nil {
		return nil, nil //nolint:nilerr // a bad cookie is treated as no session
	}
	if data.UserID <= 0 || !m.now().Before(data.ExpiresAt) {
		return nil, nil
	}

	return &data, nil
}

// Clear returns a cookie that removes the session.
func (m *Manager) Clear() *http.Cookie {
	return m.cookie("", -1)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
