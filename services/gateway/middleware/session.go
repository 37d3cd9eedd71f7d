// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// SessionAuth reads the session cookie, resolves it against the
// session store, and stashes the session in the Gin context. Handlers
// retrieve it via GetAuthSession; RequireSession aborts unauthenticated
// requests with 401 and RequireCSRF fences state-changing requests.
//
//	Request
//	   │
//	   ▼
//	SessionAuth ──► cookie → store.Get → context
//	   │
//	   ▼
//	RequireSession ──► 401 when absent/expired
//	   │
//	   ▼
//	RequireCSRF ──► 403 when X-CSRF-Token mismatches
//	   │
//	   ▼
//	Handler
//
// The principal is always the session's username as resolved server
// side. Nothing in this package reads a username from the request
// body.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/store"
)

// SessionCookieName is the browser session cookie.
const SessionCookieName = "openclaw_session"

// CSRFHeaderName carries the per-session CSRF token on state-changing
// requests.
const CSRFHeaderName = "X-CSRF-Token"

// sessionCookieMaxAge mirrors the session TTL in seconds.
const sessionCookieMaxAge = 1800

// authSessionKey is the context key for the resolved session.
// Using a package-scoped key prevents collisions with other middleware.
const authSessionKey = "openclaw_auth_session"

// SetSessionCookie emits the session cookie: Path=/, HttpOnly,
// SameSite=Strict, Max-Age=1800, plus Secure on HTTPS listeners only.
func SetSessionCookie(c *gin.Context, sessionID string, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, sessionID, sessionCookieMaxAge, "/", "", secure, true)
}

// ClearSessionCookie expires the cookie immediately (Max-Age=0).
func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", secure, true)
}

// SessionAuth resolves the session cookie into the Gin context. The
// middleware never aborts; endpoints that demand authentication chain
// RequireSession after it.
func SessionAuth(sessions *store.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookieName)
		if err == nil && id != "" {
			if sess, ok := sessions.Get(id); ok {
				c.Set(authSessionKey, sess)
			}
		}
		c.Next()
	}
}

// GetAuthSession retrieves the resolved session, if any.
func GetAuthSession(c *gin.Context) (datatypes.AuthSession, bool) {
	v, exists := c.Get(authSessionKey)
	if !exists {
		return datatypes.AuthSession{}, false
	}
	sess, ok := v.(datatypes.AuthSession)
	return sess, ok
}

// RequireSession aborts with 401 when no live session is attached.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAuthSession(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "authentication required",
			})
			return
		}
		c.Next()
	}
}

// RequireCSRF fences state-changing requests: the X-CSRF-Token header
// must equal the session's token, compared in constant time. Safe
// methods pass through untouched.
func RequireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		sess, ok := GetAuthSession(c)
		if !ok {
			c.Next() // RequireSession owns the 401
			return
		}
		header := c.GetHeader(CSRFHeaderName)
		if len(header) != len(sess.CSRFToken) ||
			subtle.ConstantTimeCompare([]byte(header), []byte(sess.CSRFToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"ok":    false,
				"error": "csrf token mismatch",
			})
			return
		}
		c.Next()
	}
}
