// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the gateway:
// user records, browser sessions, preference documents, projects, and
// the gateway error taxonomy.
//
// Structs here carry the JSON tags used on disk and on the wire. The
// on-disk formats are stable: user records persisted by earlier
// releases must keep parsing, so field names are camelCase and times
// are RFC 3339.
package datatypes

import (
	"time"
)

// =============================================================================
// Roles and Scopes
// =============================================================================

// Role is the coarse authorization level attached to a user record.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "read-only"
)

// Valid reports whether r is one of the three recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleReadOnly:
		return true
	}
	return false
}

// ScopesForRole derives the scope set granted to a session at login.
//
// Scopes are fixed per role; they are never stored on the user record
// and never accepted from a client.
func ScopesForRole(r Role) []string {
	switch r {
	case RoleAdmin:
		return []string{"operator.admin", "operator.approvals", "operator.pairing"}
	case RoleOperator:
		return []string{"operator.read", "operator.write", "operator.approvals"}
	case RoleReadOnly:
		return []string{"operator.read"}
	default:
		return nil
	}
}

// =============================================================================
// User Record
// =============================================================================

// User is a persisted gateway account.
//
// Invariants:
//   - PasswordHash, RecoveryCodeHash, and BackupCodeHashes only ever
//     hold PHC-encoded digests, never plaintext.
//   - TotpEnabled implies TotpSecret is non-empty.
//   - Username is unique case-insensitively across the store; the
//     stored casing is whatever the operator typed at creation.
type User struct {
	Username         string    `json:"username"`
	PasswordHash     string    `json:"passwordHash"`
	Role             Role      `json:"role"`
	RecoveryCodeHash string    `json:"recoveryCodeHash,omitempty"`
	TotpEnabled      bool      `json:"totpEnabled,omitempty"`
	TotpSecret       string    `json:"totpSecret,omitempty"`
	BackupCodeHashes []string  `json:"backupCodeHashes,omitempty"`
	LastUsedTotpCode string    `json:"lastUsedTotpCode,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PublicUser is the client-visible projection of a User. It never
// carries hashes or TOTP material.
type PublicUser struct {
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	TotpEnabled bool   `json:"totpEnabled"`
}

// Public strips credential material from a user record.
func (u *User) Public() PublicUser {
	return PublicUser{Username: u.Username, Role: u.Role, TotpEnabled: u.TotpEnabled}
}

// =============================================================================
// Session Record
// =============================================================================

// SessionTTL is the sliding idle window for browser sessions.
// Refresh extends expiry to now+SessionTTL, never beyond.
const SessionTTL = 30 * time.Minute

// AuthSession is an issued browser session. The ID doubles as the
// cookie value; CSRFToken must accompany state-changing requests.
type AuthSession struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Role           Role      `json:"role"`
	Scopes         []string  `json:"scopes"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CSRFToken      string    `json:"csrfToken"`
}

// Expired reports whether the session is past its idle window at t.
func (s *AuthSession) Expired(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// HasScope reports whether the session carries the given scope.
func (s *AuthSession) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}
