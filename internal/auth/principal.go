// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/services/session"
)

// Source names the credential a Principal was resolved from.
// It is informational only.
type Source string

const (
	SourceCookie Source = "cookie"
	SourceBearer Source = "bearer"
)

// Principal is the authenticated caller, independent of how it authenticated.
type Principal struct {
	ID     int64       `json:"id"`
	Email  string      `json:"email"`
	Name   string      `json:"name,omitempty"`
	Role   models.Role `json:"role"`
	Phone  *string     `json:"phone,omitempty"`
	Image  *string     `json:"image,omitempty"`
	Source Source      `json:"source"`
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func principalFromUser(u *models.User, src Source) *Principal {
	return &Principal{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
		Phone:  u.Phone,
		Image:  u.Image,
		Source: src,
	}
}

func principalFromSession(d *session.Data) *Principal {
	return &Principal{
		ID:     d.UserID,
		Email:  d.Email,
		Name:   d.Name,
		Role:   d.Role,
		Image:  d.Image,
		Source: SourceCookie,
	}
}
