// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP and WebSocket endpoints of the
// gateway.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/validation"
	"github.com/openclaw/openclaw/services/gateway/audit"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/middleware"
	"github.com/openclaw/openclaw/services/gateway/observability"
	"github.com/openclaw/openclaw/services/gateway/ratelimit"
	"github.com/openclaw/openclaw/services/gateway/store"
)

// AuthDeps bundles the collaborators of the auth endpoints. The
// gateway wires one instance at startup; tests build their own.
type AuthDeps struct {
	Credentials *store.CredentialsStore
	Sessions    *store.SessionStore
	Limiter     *ratelimit.Limiter
	Audit       *audit.Log
	Metrics     *observability.AuthMetrics
	Logger      *slog.Logger

	// Secure marks the listener as HTTPS, adding the Secure cookie
	// attribute.
	Secure bool

	// Now is the clock; tests override it to pin TOTP windows.
	Now func() time.Time
}

func (d *AuthDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *AuthDeps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TotpCode   string `json:"totpCode,omitempty"`
	BackupCode string `json:"backupCode,omitempty"`
}

// timingDummyHash is verified against when the username does not
// exist, so unknown-user and wrong-password responses cost the same.
var timingDummyHash = func() string {
	h, err := crypto.HashPassword("timing-equalization-placeholder")
	if err != nil {
		panic(err)
	}
	return h
}()

// HandleLogin processes POST /auth/login.
//
// The check order is fixed: rate limiter first, then password, then
// second factor. Every failure records against both the client IP and
// the claimed username, so cooldowns escalate no matter which key the
// attacker varies.
func HandleLogin(deps *AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
			return
		}
		if req.TotpCode != "" && req.BackupCode != "" {
			// Ambiguous request; the two factors have different replay
			// and consumption semantics, so the client must pick one.
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "supply totpCode or backupCode, not both"})
			return
		}
		ip := c.ClientIP()
		username := validation.NormalizeUsername(req.Username)

		if retryMs := deps.Limiter.CheckDoubleKey(ip, username); retryMs > 0 {
			deps.Metrics.RecordLogin(observability.OutcomeRateLimited)
			for _, kind := range deps.Limiter.LockedKinds(ip, username) {
				deps.Metrics.RecordRateLimitRejection(kind)
			}
			deps.Audit.Append("auth.login.rate_limited", username, ip, map[string]any{
				"retryAfterMs": retryMs,
			})
			c.Header("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"ok":           false,
				"error":        "too many attempts",
				"retryAfterMs": retryMs,
			})
			return
		}

		user, found := deps.Credentials.Get(username)
		hash := timingDummyHash
		if found {
			hash = user.PasswordHash
		}
		// Verify runs even for unknown users so response timing does
		// not reveal which usernames exist.
		passwordOK := crypto.VerifyPassword(req.Password, hash) && found

		if !passwordOK || validation.ValidateUsername(username) != nil {
			deps.Limiter.RecordDoubleKeyFailure(ip, username)
			deps.Metrics.RecordLogin(observability.OutcomeBadCredentials)
			deps.Audit.Append("auth.login.failed", username, ip, map[string]any{
				"reason": "bad_credentials",
			})
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid credentials"})
			return
		}

		if user.TotpEnabled {
			if req.TotpCode == "" && req.BackupCode == "" {
				// Not a failure: the client passed the password check
				// and is being asked for the second factor.
				deps.Metrics.RecordLogin(observability.OutcomeTotpRequired)
				c.JSON(http.StatusUnauthorized, gin.H{
					"ok":           false,
					"error":        "totp code required",
					"totpRequired": true,
				})
				return
			}
			if !deps.verifySecondFactor(&user, req.TotpCode, req.BackupCode) {
				deps.Limiter.RecordDoubleKeyFailure(ip, username)
				deps.Metrics.RecordLogin(observability.OutcomeTotpInvalid)
				deps.Audit.Append("auth.login.failed", username, ip, map[string]any{
					"reason": "totp_invalid",
				})
				c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid credentials"})
				return
			}
		}

		deps.Limiter.ResetDoubleKey(ip, username)
		sess, err := deps.Sessions.Create(user.Username, user.Role)
		if err != nil {
			deps.log().Error("session creation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
			return
		}
		middleware.SetSessionCookie(c, sess.ID, deps.Secure)
		deps.Metrics.RecordLogin(observability.OutcomeSuccess)
		deps.Metrics.SetActiveSessions(deps.Sessions.Len())
		deps.Audit.Append("auth.login.success", user.Username, ip, map[string]any{
			"role": string(user.Role),
		})
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"user":      user.Public(),
			"scopes":    sess.Scopes,
			"csrfToken": sess.CSRFToken,
			"expiresAt": sess.ExpiresAt,
		})
	}
}

// verifySecondFactor accepts either a live TOTP code or an unused
// backup code, consuming whichever matched.
func (d *AuthDeps) verifySecondFactor(user *datatypes.User, totpCode, backupCode string) bool {
	if totpCode != "" {
		lastUsed, ok := crypto.VerifyTotpCode(user.TotpSecret, totpCode, user.LastUsedTotpCode, d.now())
		if !ok {
			return false
		}
		if err := d.Credentials.UpdateTotp(user.Username, store.TotpUpdate{LastUsedCode: &lastUsed}); err != nil {
			d.log().Warn("failed to persist totp replay marker", "error", err)
		}
		return true
	}
	idx := crypto.VerifyBackupCode(backupCode, user.BackupCodeHashes)
	if idx < 0 {
		return false
	}
	remaining := make([]string, 0, len(user.BackupCodeHashes)-1)
	remaining = append(remaining, user.BackupCodeHashes[:idx]...)
	remaining = append(remaining, user.BackupCodeHashes[idx+1:]...)
	if err := d.Credentials.UpdateTotp(user.Username, store.TotpUpdate{BackupCodeHashes: &remaining}); err != nil {
		d.log().Warn("failed to consume backup code", "error", err)
	}
	return true
}

// HandleMe processes GET /auth/me for an authenticated session. The
// call slides the session window forward, so an open tab polling /me
// stays logged in.
func HandleMe(deps *AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := middleware.GetAuthSession(c)
		user, found := deps.Credentials.Get(sess.Username)
		if !found {
			// Account deleted while the session was live.
			deps.Sessions.DeleteByID(sess.ID)
			middleware.ClearSessionCookie(c, deps.Secure)
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "authentication required"})
			return
		}
		refreshed, ok := deps.Sessions.Refresh(sess.ID)
		if !ok {
			refreshed = sess
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"user":      user.Public(),
			"scopes":    refreshed.Scopes,
			"csrfToken": refreshed.CSRFToken,
			"expiresAt": refreshed.ExpiresAt,
		})
	}
}

// HandleRefresh processes POST /auth/refresh: slides the session
// expiry forward and re-issues the cookie.
func HandleRefresh(deps *AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := middleware.GetAuthSession(c)
		refreshed, ok := deps.Sessions.Refresh(sess.ID)
		if !ok {
			middleware.ClearSessionCookie(c, deps.Secure)
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "authentication required"})
			return
		}
		middleware.SetSessionCookie(c, refreshed.ID, deps.Secure)
		c.JSON(http.StatusOK, gin.H{"ok": true, "expiresAt": refreshed.ExpiresAt})
	}
}

// HandleLogout processes POST /auth/logout. Always 200: logging out
// an already-dead session still clears the cookie.
func HandleLogout(deps *AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := middleware.GetAuthSession(c); ok {
			deps.Sessions.DeleteByID(sess.ID)
			deps.Metrics.RecordRevocation("logout")
			deps.Metrics.SetActiveSessions(deps.Sessions.Len())
			deps.Audit.Append("auth.logout", sess.Username, c.ClientIP(), nil)
		}
		middleware.ClearSessionCookie(c, deps.Secure)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// HandleHealth reports liveness. Unauthenticated so load balancer
// probes can reach it.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
