// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/openclaw/services/gateway/handlers"
	"github.com/openclaw/openclaw/services/gateway/middleware"
)

// Config carries the route-level knobs.
type Config struct {
	// UIDir is the directory holding the operator UI. Empty disables
	// the /ui routes.
	UIDir string
}

// SetupRoutes mounts the gateway surface on the router.
func SetupRoutes(router *gin.Engine, authDeps *handlers.AuthDeps, wsDeps *handlers.WSDeps, cfg Config) {
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.SessionAuth(authDeps.Sessions))

	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := router.Group("/auth")
	{
		auth.POST("/login", handlers.HandleLogin(authDeps))
		auth.GET("/me", middleware.RequireSession(), handlers.HandleMe(authDeps))
		auth.POST("/refresh", middleware.RequireSession(), middleware.RequireCSRF(), handlers.HandleRefresh(authDeps))
		// Logout skips the CSRF gate: it must always return 200, and a
		// client that lost its token still needs to clear the cookie.
		auth.POST("/logout", handlers.HandleLogout(authDeps))
	}

	router.GET("/ws", handlers.HandleWS(wsDeps))

	if cfg.UIDir != "" {
		router.GET("/ui/*filepath", handlers.HandleUI(cfg.UIDir))
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/ui/")
		})
	}
}
