// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package crypto implements the gateway's cryptographic primitives:
// PHC-encoded scrypt password hashing, AES-256-GCM encryption for
// credentials and persisted sessions, RFC 6238 TOTP with backup codes,
// and self-signed certificate generation.
//
// # Compatibility
//
// The PHC string format and the credentials envelope are wire-stable.
// Hashes and encrypted files written by earlier releases must keep
// verifying, so the parameters encoded in each artifact are honored on
// read even when the write-side defaults change.
//
// # Thread Safety
//
// All functions in this package are stateless and safe for concurrent
// use. MachineKey is safe for concurrent reads after construction.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// =============================================================================
// PHC scrypt Password Hashing
// =============================================================================

// Scrypt parameters for newly produced hashes. Verification reads the
// parameters back out of the PHC string, so these can be raised later
// without invalidating stored hashes.
const (
	scryptLogN    = 14 // N = 2^14
	scryptR       = 8
	scryptP       = 1
	scryptSaltLen = 32
	scryptKeyLen  = 64

	// scryptMaxLogN bounds ln read from untrusted PHC strings so a
	// crafted hash cannot force an enormous KDF allocation.
	scryptMaxLogN = 20
)

var b64u = base64.RawURLEncoding

// HashPassword derives a PHC-encoded scrypt hash of password.
//
// The output has the form
//
//	$scrypt$ln=14,r=8,p=1$<salt>$<hash>
//
// with salt and hash base64url-encoded without padding. Every call
// draws a fresh 32-byte salt, so hashing the same password twice
// yields distinct strings.
func HashPassword(password string) (string, error) {
	salt := make([]byte, scryptSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	dk, err := scrypt.Key([]byte(password), salt, 1<<scryptLogN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("deriving key: %w", err)
	}
	return fmt.Sprintf("$scrypt$ln=%d,r=%d,p=%d$%s$%s",
		scryptLogN, scryptR, scryptP,
		b64u.EncodeToString(salt), b64u.EncodeToString(dk)), nil
}

// VerifyPassword reports whether password matches the PHC-encoded
// hash. Parse failures, unknown parameters, and length mismatches all
// verify false; the comparison on equal-length digests is constant
// time.
func VerifyPassword(password, encoded string) bool {
	logN, r, p, salt, want, ok := parsePHC(encoded)
	if !ok {
		return false
	}
	got, err := scrypt.Key([]byte(password), salt, 1<<logN, r, p, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsHashed reports whether s already looks like a password hash rather
// than a plaintext password. Used when importing user files so hashed
// values are never re-hashed.
func IsHashed(s string) bool {
	return strings.HasPrefix(s, "$scrypt$") || strings.HasPrefix(s, "$argon2")
}

// parsePHC splits a $scrypt$ PHC string into its parameters. Unknown
// parameter keys and out-of-range values fail the parse.
func parsePHC(encoded string) (logN, r, p int, salt, hash []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	// ["", "scrypt", "ln=..,r=..,p=..", salt, hash]
	if len(parts) != 5 || parts[0] != "" || parts[1] != "scrypt" {
		return 0, 0, 0, nil, nil, false
	}
	logN, r, p = -1, -1, -1
	for _, kv := range strings.Split(parts[2], ",") {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			return 0, 0, 0, nil, nil, false
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, 0, nil, nil, false
		}
		switch k {
		case "ln":
			logN = n
		case "r":
			r = n
		case "p":
			p = n
		default:
			return 0, 0, 0, nil, nil, false
		}
	}
	if logN < 1 || logN > scryptMaxLogN || r < 1 || p < 1 {
		return 0, 0, 0, nil, nil, false
	}
	salt, err := b64u.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	hash, err = b64u.DecodeString(parts[4])
	if err != nil || len(hash) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	return logN, r, p, salt, hash, true
}

// =============================================================================
// Random Tokens
// =============================================================================

// RandomBytes returns n bytes from the CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// NewToken returns a 32-byte random value encoded base64url without
// padding. Used for session IDs and CSRF tokens.
func NewToken() (string, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return b64u.EncodeToString(b), nil
}
