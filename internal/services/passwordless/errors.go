// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package passwordless

import "errors"

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrDeliveryFailed is returned when the code could not be sent.
	// The issued code stays valid.
	ErrDeliveryFailed = errors.New("code delivery failed")

	ErrInvalidEmail = &ValidationError{Field: "email", Message: "A valid email address is required"}
	ErrInvalidCode  = &ValidationError{Field: "code", Message: "The code must be 6 digits"}
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) work.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
