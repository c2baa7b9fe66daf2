// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"errors"
	"strings"

	"codeberg.org/counselpoint/authcore/internal/models"
)

var (
	// ErrUnauthenticated is returned when a request carries no valid credential.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden matches every *ForbiddenError.
	ErrForbidden = errors.New("forbidden")
)

// ForbiddenError is returned when the principal lacks the required role.
type ForbiddenError struct {
	Required []models.Role
}

func (e *ForbiddenError) Error() string {
	if len(e.Required) == 0 {
		return "Access denied"
	}
	names := make([]string, len(e.Required))
	for i, r := range e.Required {
		names[i] = strings.ToLower(r.Title())
	}
	names[0] = e.Required[0].Title()

	list := names[0]
	if n := len(names); n > 1 {
		list = strings.Join(names[:n-1], ", ") + " or " + names[n-1]
	}
	return list + " access required"
}

// Is makes errors.Is(err, ErrForbidden) work.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
