// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the authentication gateway: credential and
// session stores, the progressive rate limiter, the audit log, session
// persistence, and the HTTP/WS surface. Everything is wired through
// the Gateway struct; there are no hidden globals, so tests can stand
// up several instances side by side.
package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/extensions"
	"github.com/openclaw/openclaw/services/gateway/audit"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/handlers"
	"github.com/openclaw/openclaw/services/gateway/observability"
	"github.com/openclaw/openclaw/services/gateway/ratelimit"
	"github.com/openclaw/openclaw/services/gateway/routes"
	"github.com/openclaw/openclaw/services/gateway/store"
)

// Config holds everything the gateway needs at startup.
type Config struct {
	// StateDir is the root of all persisted state (~/.openclaw).
	StateDir string

	// CredentialsPassword unlocks an encrypted credentials file.
	// Ignored when the file is plaintext.
	CredentialsPassword string

	// UIDir serves the operator UI when non-empty.
	UIDir string

	// AuditRetention caps the number of rotated audit files.
	// Zero means the default.
	AuditRetention int

	// LegacyToken enables the pre-shared-token WebSocket fallback for
	// automation clients. Empty disables it.
	LegacyToken string
	// LegacyTokenUser is the principal the legacy token acts as.
	LegacyTokenUser string
	// LegacyTokenRole is that principal's role (defaults to operator).
	LegacyTokenRole string

	// Secure marks the listener as HTTPS for cookie attributes.
	Secure bool

	// WatchCredentials reloads the credentials file on external edits.
	WatchCredentials bool

	// Metrics defaults to a fresh registration on the global registry.
	Metrics *observability.AuthMetrics
}

// Gateway owns the assembled components.
type Gateway struct {
	Credentials *store.CredentialsStore
	Sessions    *store.SessionStore
	Persistence *store.SessionPersistence
	Preferences *store.PreferencesStore
	Projects    *store.ProjectsStore
	Limiter     *ratelimit.Limiter
	Audit       *audit.Log
	Metrics     *observability.AuthMetrics
	Registry    *handlers.ConnRegistry

	machineKey *crypto.MachineKey
	cfg        Config
	logger     *slog.Logger
}

// New assembles a gateway rooted at cfg.StateDir. Restores persisted
// sessions and arms the audit log; call Shutdown to flush both.
func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("gateway: StateDir is required")
	}

	creds, err := store.OpenCredentials(cfg.StateDir, cfg.CredentialsPassword, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: open credentials: %w", err)
	}

	key, err := crypto.LoadOrCreateMachineKey(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: machine key: %w", err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.InitMetrics()
	}

	auditLog := audit.New()
	retention := cfg.AuditRetention
	if retention <= 0 {
		retention = audit.DefaultRetention
	}
	if err := auditLog.Init(cfg.StateDir, retention); err != nil {
		return nil, fmt.Errorf("gateway: audit init: %w", err)
	}
	auditLog.OnWriteError = metrics.RecordAuditWriteError

	sessions := store.NewSessionStore()
	persistence := store.NewSessionPersistence(cfg.StateDir, key, sessions, logger)
	restored := persistence.Load()
	if restored > 0 {
		logger.Info("restored persisted sessions", "count", restored)
	}

	registry := handlers.NewConnRegistry()
	sessions.SetOnChange(func() {
		persistence.ScheduleWrite()
		metrics.SetActiveSessions(sessions.Len())
		metrics.SetAuditBufferDepth(auditLog.BufferDepth())
	})
	sessions.SetOnRevoke(registry.CloseSessions)

	g := &Gateway{
		Credentials: creds,
		Sessions:    sessions,
		Persistence: persistence,
		Preferences: store.NewPreferencesStore(cfg.StateDir),
		Projects:    store.NewProjectsStore(cfg.StateDir),
		Limiter:     ratelimit.New(),
		Audit:       auditLog,
		Metrics:     metrics,
		Registry:    registry,
		machineKey:  key,
		cfg:         cfg,
		logger:      logger,
	}

	if cfg.WatchCredentials {
		if err := creds.Watch(func() {
			logger.Info("credentials file reloaded")
		}); err != nil {
			logger.Warn("credentials watch unavailable", "error", err)
		}
	}

	return g, nil
}

// Router builds a gin engine with the full gateway surface mounted.
func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	g.Mount(router)
	return router
}

// Mount attaches the gateway surface to an existing engine, so the
// caller can install tracing or recovery middleware first.
func (g *Gateway) Mount(router *gin.Engine) {
	authDeps := &handlers.AuthDeps{
		Credentials: g.Credentials,
		Sessions:    g.Sessions,
		Limiter:     g.Limiter,
		Audit:       g.Audit,
		Metrics:     g.Metrics,
		Logger:      g.logger,
		Secure:      g.cfg.Secure,
	}
	wsDeps := &handlers.WSDeps{
		Credentials: g.Credentials,
		Sessions:    g.Sessions,
		Preferences: g.Preferences,
		Projects:    g.Projects,
		Audit:       g.Audit,
		Registry:    g.Registry,
		Logger:      g.logger,
		LegacyAuth:  g.legacyProvider(),
	}
	routes.SetupRoutes(router, authDeps, wsDeps, routes.Config{UIDir: g.cfg.UIDir})
}

func (g *Gateway) legacyProvider() extensions.AuthProvider {
	if g.cfg.LegacyToken == "" {
		return nil
	}
	user := g.cfg.LegacyTokenUser
	if user == "" {
		user = "automation"
	}
	role := datatypes.Role(g.cfg.LegacyTokenRole)
	if !role.Valid() {
		role = datatypes.RoleOperator
	}
	return &extensions.StaticTokenProvider{
		Token: g.cfg.LegacyToken,
		User:  extensions.AuthInfo{UserID: user, Roles: []string{string(role)}},
	}
}

// RotateMachineKey re-encrypts persisted sessions under a fresh key.
func (g *Gateway) RotateMachineKey() (int, error) {
	return g.Persistence.RotateKey()
}

// Shutdown flushes persisted state and releases resources. Safe to
// call once, after the HTTP server has stopped.
func (g *Gateway) Shutdown() {
	g.Sessions.StopSweeper()
	if err := g.Persistence.Flush(); err != nil {
		g.logger.Warn("session flush failed", "error", err)
	}
	g.Audit.Append("gateway.shutdown", audit.AnonymousActor, "", map[string]any{
		"sessions": g.Sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
	g.Audit.Shutdown()
	if err := g.Credentials.Close(); err != nil {
		g.logger.Warn("credentials close failed", "error", err)
	}
	g.machineKey.Destroy()
}
