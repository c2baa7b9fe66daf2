// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth resolves callers into principals and gates access by role.
package auth

import (
	"context"
	"net/http"

	"codeberg.org/counselpoint/authcore/internal/ctxkeys"
)

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxkeys.Principal{}, p)
}

// GetPrincipal returns the authenticated principal from the context, or nil if not authenticated.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxkeys.Principal{}).(*Principal); ok {
		return p
	}
	return nil
}

// IsAuthenticated returns true if the context has an authenticated principal.
func IsAuthenticated(ctx context.Context) bool {
	return GetPrincipal(ctx) != nil
}

// WithIncomingHeaders carries request headers in ctx for code that only holds a context.
func WithIncomingHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, ctxkeys.IncomingHeaders{}, h)
}

// IncomingHeaders returns the headers stored by WithIncomingHeaders, or nil.
func IncomingHeaders(ctx context.Context) http.Header {
	if h, ok := ctx.Value(ctxkeys.IncomingHeaders{}).(http.Header); ok {
		return h
	}
	return nil
}
