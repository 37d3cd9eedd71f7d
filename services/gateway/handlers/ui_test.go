// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/middleware"
)

func newUIRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"),
		[]byte(`<html><head><script src="app.js"></script></head><body><script>boot()</script></body></html>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("// app"), 0o644))

	r := gin.New()
	r.Use(middleware.SecurityHeaders())
	r.GET("/ui/*filepath", HandleUI(dir))
	return r, dir
}

func TestUIIndexNonceInjection(t *testing.T) {
	r, _ := newUIRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ui/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Every script tag carries the nonce from the CSP header.
	csp := w.Header().Get("Content-Security-Policy")
	m := regexp.MustCompile(`'nonce-([^']+)'`).FindStringSubmatch(csp)
	require.Len(t, m, 2)
	nonce := m[1]

	body := w.Body.String()
	assert.Contains(t, body, `<script nonce="`+nonce+`" src="app.js">`)
	assert.Contains(t, body, `<script nonce="`+nonce+`">boot()`)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestUIStaticAssetServedVerbatim(t *testing.T) {
	r, _ := newUIRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ui/app.js", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "// app", w.Body.String())
}

func TestUITraversalBlocked(t *testing.T) {
	r, dir := newUIRouter(t)
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ui/foo", nil)
	// Gin cleans the URL path, so smuggle the traversal into the
	// route parameter directly.
	req.URL.Path = "/ui/../secret.txt"
	req.URL.RawPath = "/ui/..%2Fsecret.txt"
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "top secret", w.Body.String())
}
