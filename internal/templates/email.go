// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package templates renders the HTML parts of outgoing messages.
package templates

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

// OTPEmail holds the localized texts of a one-time code email.
type OTPEmail struct {
	Lang      string
	Greeting  string
	Body      string
	Code      string
	Expiry    string
	Ignore    string
	Signature string
}
