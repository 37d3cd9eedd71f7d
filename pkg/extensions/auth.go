// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the gateway.
//
// The core authenticates browsers with cookie-backed sessions. Older
// automation clients authenticate with a static gateway token instead;
// that path goes through the AuthProvider interface so deployments can
// swap in their own token validation without touching the core.
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when token validation fails.
// Implementations should wrap this error with additional context.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity produced by a successful token validation.
type AuthInfo struct {
	// UserID is the principal the connection acts as. Never empty.
	UserID string

	// Roles lists role memberships for scope derivation.
	// Common roles: "admin", "operator", "read-only"
	Roles []string
}

// HasRole checks if the identity carries a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates legacy bearer tokens presented on the
// WebSocket handshake when no session cookie resolves.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate checks the token and returns the identity it grants.
	// A failed validation returns an error wrapping ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// StaticTokenProvider grants a fixed identity to the holder of a
// single pre-shared token. This is the open source default for the
// legacy automation path; the token comes from the gateway config.
type StaticTokenProvider struct {
	Token string
	User  AuthInfo
}

// Validate compares tokens in constant time.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if p.Token == "" || token == "" {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	info := p.User
	return &info, nil
}
