// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"
)

// cspNonceKey is the context key for the per-response CSP nonce.
const cspNonceKey = "openclaw_csp_nonce"

// SecurityHeaders stamps the hardening headers on every response and
// mints a fresh CSP nonce per request. The UI handler reads the nonce
// via GetCSPNonce and injects it into inline <script> tags.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce := newNonce()
		c.Set(cspNonceKey, nonce)

		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(self), geolocation=(), payment=()")
		h.Set("Content-Security-Policy", buildCSP(nonce))

		c.Next()
	}
}

// GetCSPNonce returns the nonce minted for this response, or "" when
// SecurityHeaders is not on the chain.
func GetCSPNonce(c *gin.Context) string {
	v, exists := c.Get(cspNonceKey)
	if !exists {
		return ""
	}
	nonce, _ := v.(string)
	return nonce
}

func buildCSP(nonce string) string {
	directives := []string{
		"default-src 'self'",
		"script-src 'self' 'nonce-" + nonce + "'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: blob:",
		"connect-src 'self' ws: wss:",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawStdEncoding.EncodeToString(buf)
}
