// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"net/http"

	"codeberg.org/counselpoint/authcore/internal/models"
)

// CheckRole returns a *ForbiddenError unless p holds one of roles.
func CheckRole(p *Principal, roles ...models.Role) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if len(roles) > 0 && !p.HasRole(roles...) {
		return &ForbiddenError{Required: roles}
	}
	return nil
}

// RequireRole resolves r and checks the role. Resolver errors are returned unchanged.
func (res *Resolver) RequireRole(r *http.Request, roles ...models.Role) (*Principal, error) {
	p, err := res.Resolve(r)
	if err != nil {
		return nil, err
	}
	if err := CheckRole(p, roles...); err != nil {
		return nil, err
	}
	return p, nil
}

// RequireAuth accepts any authenticated principal.
func (res *Resolver) RequireAuth(r *http.Request) (*Principal, error) {
	return res.RequireRole(r)
}

func (res *Resolver) RequireAdmin(r *http.Request) (*Principal, error) {
	return res.RequireRole(r, models.RoleAdmin)
}

func (res *Resolver) RequireCounselor(r *http.Request) (*Principal, error) {
	return res.RequireRole(r, models.RoleCounselor)
}

func (res *Resolver) RequireAdminOrCounselor(r *http.Request) (*Principal, error) {
	return res.RequireRole(r, models.RoleAdmin, models.RoleCounselor)
}
