// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/store"
)

func newAuthedRouter(t *testing.T) (*gin.Engine, datatypes.AuthSession) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := store.NewSessionStore()
	t.Cleanup(sessions.StopSweeper)
	sess, err := sessions.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	r := gin.New()
	r.Use(SessionAuth(sessions))
	r.GET("/whoami", RequireSession(), func(c *gin.Context) {
		got, _ := GetAuthSession(c)
		c.JSON(http.StatusOK, gin.H{"username": got.Username})
	})
	r.POST("/mutate", RequireSession(), RequireCSRF(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, sess
}

func TestSessionAuthResolvesCookie(t *testing.T) {
	r, sess := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"admin"`)
}

func TestRequireSessionRejectsMissingAndBogusCookies(t *testing.T) {
	r, _ := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "not-a-session"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireCSRF(t *testing.T) {
	r, sess := newAuthedRouter(t)

	// Missing header.
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	req.Header.Set(CSRFHeaderName, "forged")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	req.Header.Set(CSRFHeaderName, sess.CSRFToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSessionCookieAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/set", func(c *gin.Context) {
		SetSessionCookie(c, "abc123", false)
		c.Status(http.StatusOK)
	})
	r.GET("/set-secure", func(c *gin.Context) {
		SetSessionCookie(c, "abc123", true)
		c.Status(http.StatusOK)
	})
	r.GET("/clear", func(c *gin.Context) {
		ClearSessionCookie(c, false)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/set", nil))
	raw := w.Header().Get("Set-Cookie")
	assert.Contains(t, raw, SessionCookieName+"=abc123")
	assert.Contains(t, raw, "Path=/")
	assert.Contains(t, raw, "Max-Age=1800")
	assert.Contains(t, raw, "HttpOnly")
	assert.Contains(t, raw, "SameSite=Strict")
	assert.NotContains(t, raw, "Secure")
	assert.NotContains(t, raw, "Domain=")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/set-secure", nil))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Secure")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clear", nil))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}
