// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ctxkeys defines typed context keys used across packages.
package ctxkeys

// Principal is the context key for the resolved caller.
type Principal struct{}

// IncomingHeaders is the context key for request headers carried without the request.
type IncomingHeaders struct{}
