// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind classifies a gateway failure. Handlers map kinds to HTTP
// status codes at the request boundary; internal callers branch on the
// kind, never on message text.
type ErrorKind int

const (
	// KindInvalidInput covers malformed request bodies and undecodable
	// base32/base64 input.
	KindInvalidInput ErrorKind = iota

	// KindUnauthenticated covers missing or expired sessions and wrong
	// passwords, codes, or tokens. Cryptographic failures surface as
	// this kind externally; the GCM/tag detail never leaves the server.
	KindUnauthenticated

	// KindForbidden covers a valid session lacking a required scope,
	// and CSRF token mismatches.
	KindForbidden

	// KindRateLimited carries a retry-after hint in milliseconds.
	KindRateLimited

	// KindNotFound covers unknown usernames, sessions, and projects.
	KindNotFound

	// KindConflict covers duplicate usernames or project IDs and
	// attempts to enable 2FA twice.
	KindConflict

	// KindCorrupt covers decryption or authentication failures on
	// persisted state.
	KindCorrupt

	// KindResourceLimit covers the project and file caps.
	KindResourceLimit

	// KindIO covers failed file writes.
	KindIO

	// KindFatal covers unrecoverable startup failures.
	KindFatal
)

// GatewayError is the error type crossing component boundaries inside
// the gateway. Wrapped causes stay available via errors.Unwrap.
type GatewayError struct {
	Kind         ErrorKind
	Message      string
	RetryAfterMs int64 // populated only for KindRateLimited
	Err          error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// E builds a GatewayError without a cause.
func E(kind ErrorKind, msg string) *GatewayError {
	return &GatewayError{Kind: kind, Message: msg}
}

// Wrap builds a GatewayError around a cause.
func Wrap(kind ErrorKind, msg string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: msg, Err: err}
}

// RateLimited builds a KindRateLimited error with the retry hint.
func RateLimited(retryAfterMs int64) *GatewayError {
	return &GatewayError{
		Kind:         KindRateLimited,
		Message:      "too many attempts",
		RetryAfterMs: retryAfterMs,
	}
}

// KindOf extracts the ErrorKind from err, defaulting to KindFatal for
// errors that did not originate in the gateway.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindFatal
}

// HTTPStatus maps an error kind to the response status code.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated, KindCorrupt:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindResourceLimit:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
