// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/services/gateway/middleware"
)

// HandleUI serves the operator UI from uiDir. index.html passes
// through nonce injection so its inline scripts satisfy the CSP
// minted by the SecurityHeaders middleware; everything else is served
// as-is.
func HandleUI(uiDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rel := strings.TrimPrefix(c.Param("filepath"), "/")
		if rel == "" {
			rel = "index.html"
		}
		// path.Clean plus the prefix check stops traversal out of uiDir.
		rel = path.Clean(rel)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			c.String(http.StatusNotFound, "not found")
			return
		}
		full := filepath.Join(uiDir, filepath.FromSlash(rel))

		if rel == "index.html" {
			serveIndexWithNonce(c, full)
			return
		}
		c.File(full)
	}
}

// serveIndexWithNonce stamps the per-response CSP nonce onto every
// <script> tag in index.html.
func serveIndexWithNonce(c *gin.Context, fullPath string) {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	nonce := middleware.GetCSPNonce(c)
	html := string(raw)
	if nonce != "" {
		html = strings.ReplaceAll(html, "<script", `<script nonce="`+nonce+`"`)
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
