// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in file paths or on-disk identifiers. Using these validators prevents
// path traversal and keeps per-user state directories predictable.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// usernamePattern matches usernames acceptable at account creation.
// Allows: letters, digits, dots, underscores, hyphens; must start with
// a letter or digit. Max length: 64 characters.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// fileSafePattern matches characters that survive SanitizeUsername.
var fileSafeReplacer = regexp.MustCompile(`[^a-z0-9._-]`)

// ValidateUsername validates a username for account creation.
//
// Valid usernames:
//   - 1-64 characters
//   - Letters and digits, plus dots, underscores, hyphens after the
//     first character
//
// Returns an error if the username is invalid.
//
// Example:
//
//	if err := validation.ValidateUsername(name); err != nil {
//	    return fmt.Errorf("invalid username: %w", err)
//	}
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("invalid username format: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", username)
	}
	return nil
}

// NormalizeUsername folds a username for case-insensitive comparison
// and map keys. Storage keeps the original casing; lookups go through
// this.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// SanitizeUsername converts a username into a string safe to use as a
// file or directory name under the state directory.
//
// The result is lowercase with every character outside [a-z0-9._-]
// replaced by an underscore. Names that would collapse to dot-only
// path components are rejected.
//
// Example:
//
//	name, err := validation.SanitizeUsername(session.Username)
//	if err != nil {
//	    return err
//	}
//	path := filepath.Join(stateDir, "user-preferences", name+".json")
func SanitizeUsername(username string) (string, error) {
	folded := NormalizeUsername(username)
	if folded == "" {
		return "", fmt.Errorf("username cannot be empty")
	}
	safe := fileSafeReplacer.ReplaceAllString(folded, "_")
	if strings.Trim(safe, ".") == "" {
		return "", fmt.Errorf("username %q has no path-safe characters", username)
	}
	return safe, nil
}
