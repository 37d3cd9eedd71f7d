// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/audit"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/middleware"
	"github.com/openclaw/openclaw/services/gateway/observability"
	"github.com/openclaw/openclaw/services/gateway/ratelimit"
	"github.com/openclaw/openclaw/services/gateway/store"
)

type authEnv struct {
	deps   *AuthDeps
	router *gin.Engine
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	creds, err := store.OpenCredentials(t.TempDir(), "", slog.Default())
	require.NoError(t, err)
	sessions := store.NewSessionStore()
	t.Cleanup(sessions.StopSweeper)

	deps := &AuthDeps{
		Credentials: creds,
		Sessions:    sessions,
		Limiter:     ratelimit.New(),
		Audit:       audit.New(),
		Metrics:     observability.NewAuthMetrics(prometheus.NewRegistry()),
		Logger:      slog.Default(),
	}

	r := gin.New()
	r.Use(middleware.SessionAuth(sessions))
	r.POST("/auth/login", HandleLogin(deps))
	r.GET("/auth/me", middleware.RequireSession(), HandleMe(deps))
	r.POST("/auth/refresh", middleware.RequireSession(), middleware.RequireCSRF(), HandleRefresh(deps))
	r.POST("/auth/logout", HandleLogout(deps))
	return &authEnv{deps: deps, router: r}
}

func (e *authEnv) addUser(t *testing.T, username, password string, role datatypes.Role) datatypes.User {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)
	user := datatypes.User{Username: username, PasswordHash: hash, Role: role}
	require.NoError(t, e.deps.Credentials.Create(user))
	return user
}

func (e *authEnv) login(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	res := w.Result()
	defer res.Body.Close()
	for _, c := range res.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestLoginRoundTrip(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	w := env.login(t, `{"username":"admin","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK        bool   `json:"ok"`
		CSRFToken string `json:"csrfToken"`
		User      struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"user"`
		Scopes []string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.CSRFToken)
	assert.Equal(t, "admin", resp.User.Username)
	assert.Contains(t, resp.Scopes, "operator.admin")

	cookie := sessionCookie(t, w)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 1800, cookie.MaxAge)

	// /auth/me with the cookie.
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	env.router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"username":"admin"`)

	// Refresh with the CSRF token.
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookie)
	req.Header.Set(middleware.CSRFHeaderName, resp.CSRFToken)
	refresh := httptest.NewRecorder()
	env.router.ServeHTTP(refresh, req)
	assert.Equal(t, http.StatusOK, refresh.Code)

	// Logout kills the session.
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	req.Header.Set(middleware.CSRFHeaderName, resp.CSRFToken)
	logout := httptest.NewRecorder()
	env.router.ServeHTTP(logout, req)
	assert.Equal(t, http.StatusOK, logout.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me = httptest.NewRecorder()
	env.router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	w := env.login(t, `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")
	assert.Empty(t, w.Result().Cookies())
}

func TestLoginUnknownUserSameResponse(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	known := env.login(t, `{"username":"admin","password":"wrong"}`)
	unknown := env.login(t, `{"username":"ghost","password":"wrong"}`)
	assert.Equal(t, known.Code, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	for i := 0; i < 3; i++ {
		w := env.login(t, `{"username":"admin","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Third failure armed the 30s cooldown; the next attempt is
	// refused even with the right password.
	w := env.login(t, `{"username":"admin","password":"correct horse"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "retryAfterMs")
}

func TestLoginTotpFlow(t *testing.T) {
	env := newAuthEnv(t)
	user := env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	secret, err := crypto.GenerateTotpSecret()
	require.NoError(t, err)
	enabled := true
	require.NoError(t, env.deps.Credentials.UpdateTotp(user.Username, store.TotpUpdate{
		Enabled: &enabled,
		Secret:  &secret,
	}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.deps.Now = func() time.Time { return now }

	// Password alone prompts for the second factor.
	w := env.login(t, `{"username":"admin","password":"correct horse"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"totpRequired":true`)

	code, err := crypto.GenerateTotpCode(secret, now)
	require.NoError(t, err)

	w = env.login(t, `{"username":"admin","password":"correct horse","totpCode":"`+code+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Replaying the same code within its window is rejected.
	w = env.login(t, `{"username":"admin","password":"correct horse","totpCode":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginBackupCodeConsumed(t *testing.T) {
	env := newAuthEnv(t)
	user := env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	codes, err := crypto.GenerateBackupCodes(2)
	require.NoError(t, err)
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i], err = crypto.HashPassword(c)
		require.NoError(t, err)
	}
	secret, err := crypto.GenerateTotpSecret()
	require.NoError(t, err)
	enabled := true
	require.NoError(t, env.deps.Credentials.UpdateTotp(user.Username, store.TotpUpdate{
		Enabled:          &enabled,
		Secret:           &secret,
		BackupCodeHashes: &hashes,
	}))

	w := env.login(t, `{"username":"admin","password":"correct horse","backupCode":"`+codes[0]+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	updated, found := env.deps.Credentials.Get("admin")
	require.True(t, found)
	assert.Len(t, updated.BackupCodeHashes, 1)

	// A consumed code does not work twice.
	w = env.login(t, `{"username":"admin","password":"correct horse","backupCode":"`+codes[0]+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginCaseInsensitiveUsername(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "Admin", "correct horse", datatypes.RoleAdmin)

	w := env.login(t, `{"username":"ADMIN","password":"correct horse"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// Stored casing is preserved in the response.
	assert.Contains(t, w.Body.String(), `"username":"Admin"`)
}

func TestLoginRejectsBothSecondFactors(t *testing.T) {
	env := newAuthEnv(t)
	user := env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	codes, err := crypto.GenerateBackupCodes(1)
	require.NoError(t, err)
	hash, err := crypto.HashPassword(codes[0])
	require.NoError(t, err)
	hashes := []string{hash}
	secret, err := crypto.GenerateTotpSecret()
	require.NoError(t, err)
	enabled := true
	require.NoError(t, env.deps.Credentials.UpdateTotp(user.Username, store.TotpUpdate{
		Enabled:          &enabled,
		Secret:           &secret,
		BackupCodeHashes: &hashes,
	}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.deps.Now = func() time.Time { return now }
	code, err := crypto.GenerateTotpCode(secret, now)
	require.NoError(t, err)

	// Both factors at once is malformed even when each would verify.
	w := env.login(t, `{"username":"admin","password":"correct horse","totpCode":"`+code+`","backupCode":"`+codes[0]+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Result().Cookies())

	// Neither factor was consumed.
	updated, found := env.deps.Credentials.Get("admin")
	require.True(t, found)
	assert.Len(t, updated.BackupCodeHashes, 1)
	assert.Empty(t, updated.LastUsedTotpCode)
}

func TestRateLimitRejectionLabelsLockedKey(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	// Three failures from three addresses lock the user key while every
	// per-IP count stays below the first tier.
	for _, addr := range []string{"10.0.0.1:4000", "10.0.0.2:4000", "10.0.0.3:4000"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.9:4000"
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	rejections := env.deps.Metrics.RateLimitRejectionsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(rejections.WithLabelValues("user")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rejections.WithLabelValues("ip")))
}

func TestLogoutWithoutCSRFHeaderStillOK(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser(t, "admin", "correct horse", datatypes.RoleAdmin)

	w := env.login(t, `{"username":"admin","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookie := sessionCookie(t, w)

	// A client that lost its CSRF token can still log out.
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	logout := httptest.NewRecorder()
	env.router.ServeHTTP(logout, req)
	assert.Equal(t, http.StatusOK, logout.Code)

	// And the session really is gone.
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	env.router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestLogoutWithoutSessionStillOK(t *testing.T) {
	env := newAuthEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
