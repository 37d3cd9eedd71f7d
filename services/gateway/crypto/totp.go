// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crypto

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// =============================================================================
// TOTP (RFC 6238, SHA1, 6 digits, 30 s period)
// =============================================================================

const (
	totpSecretLen = 20
	totpPeriod    = 30
	totpDigits    = 6

	// TotpIssuer labels enrolments in authenticator apps.
	TotpIssuer = "OpenClaw"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTotpSecret draws a fresh 20-byte secret and returns it
// base32-encoded without padding, ready for an otpauth URI.
func GenerateTotpSecret() (string, error) {
	raw, err := RandomBytes(totpSecretLen)
	if err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// DecodeTotpSecret strictly decodes a base32 secret. Spaces and
// padding are tolerated (authenticator apps display secrets grouped);
// any other invalid character is an error rather than garbage bytes.
func DecodeTotpSecret(secret string) ([]byte, error) {
	clean := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	clean = strings.TrimRight(clean, "=")
	raw, err := b32.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid base32 secret: %w", err)
	}
	return raw, nil
}

// GenerateTotpCode computes the 6-digit code for secret at time t.
func GenerateTotpCode(secret string, t time.Time) (string, error) {
	raw, err := DecodeTotpSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, uint64(t.Unix()/totpPeriod))
}

// VerifyTotpCode checks a submitted code against the secret, scanning
// the previous, current, and next 30-second steps.
//
// Anti-replay: a code equal to lastUsed is rejected even if it would
// otherwise verify. On success the matched code is returned and the
// caller MUST persist it as the user's last used code.
//
// Malformed codes (wrong length, non-digits) are rejected up front;
// the submitted code is public input, so no constant-time handling is
// needed here.
func VerifyTotpCode(secret, code, lastUsed string, t time.Time) (string, bool) {
	if !validTotpFormat(code) {
		return "", false
	}
	if lastUsed != "" && code == lastUsed {
		return "", false
	}
	raw, err := DecodeTotpSecret(secret)
	if err != nil {
		return "", false
	}
	counter := t.Unix() / totpPeriod
	for _, offset := range []int64{-1, 0, 1} {
		c := counter + offset
		if c < 0 {
			continue
		}
		expected, err := hotpCode(raw, uint64(c))
		if err != nil {
			return "", false
		}
		if expected == code {
			return code, true
		}
	}
	return "", false
}

// TotpURI renders the otpauth enrolment URI for authenticator apps.
func TotpURI(username, secret string) string {
	return fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		TotpIssuer, url.PathEscape(username), secret, TotpIssuer, totpDigits, totpPeriod)
}

func hotpCode(rawSecret []byte, counter uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(b32.EncodeToString(rawSecret), counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("computing HOTP: %w", err)
	}
	return code, nil
}

func validTotpFormat(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// Backup Codes
// =============================================================================

// backupAlphabet omits 0/1/I/O to avoid transcription mistakes.
const (
	backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeLen  = 8

	// BackupCodeCount is how many codes a regeneration hands out.
	BackupCodeCount = 10
)

// GenerateBackupCodes returns n fresh plaintext backup codes. The
// caller hashes them before storage and shows the plaintext exactly
// once.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		raw, err := RandomBytes(backupCodeLen)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, b := range raw {
			sb.WriteByte(backupAlphabet[int(b)%len(backupAlphabet)])
		}
		codes = append(codes, sb.String())
	}
	return codes, nil
}

// VerifyBackupCode checks input against every stored hash and returns
// the matched index, or -1. Matching is case-insensitive. Every hash
// is always checked so a miss costs the same regardless of position.
func VerifyBackupCode(input string, hashes []string) int {
	candidate := strings.ToUpper(strings.TrimSpace(input))
	matched := -1
	for i, h := range hashes {
		if VerifyPassword(candidate, h) && matched == -1 {
			matched = i
		}
	}
	return matched
}
