// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/openclaw/pkg/logging"
)

// Config is the on-disk CLI/server configuration. Every field has a
// working default; the file is optional.
type Config struct {
	// Listen is the gateway bind address.
	Listen string `yaml:"listen"`

	// StateDir roots all persisted state. Supports ~ expansion.
	StateDir string `yaml:"state_dir"`

	// UIDir serves the operator UI when non-empty.
	UIDir string `yaml:"ui_dir"`

	// LegacyToken enables the pre-shared-token WebSocket fallback.
	LegacyToken     string `yaml:"legacy_token"`
	LegacyTokenUser string `yaml:"legacy_token_user"`
	LegacyTokenRole string `yaml:"legacy_token_role"`

	// AuditRetention caps rotated audit files (0 = default).
	AuditRetention int `yaml:"audit_retention"`

	// WatchCredentials reloads the users file on external edits.
	WatchCredentials bool `yaml:"watch_credentials"`

	// OtelEndpoint enables OTLP trace export when non-empty
	// (host:port of a gRPC collector).
	OtelEndpoint string `yaml:"otel_endpoint"`

	Log LogConfig `yaml:"log"`
}

// LogConfig mirrors logging.Config for the YAML file.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Listen:           "127.0.0.1:18789",
		StateDir:         "~/.openclaw",
		WatchCredentials: true,
		Log:              LogConfig{Level: "info"},
	}
}

// defaultConfigPath is consulted when --config is not given.
func defaultConfigPath() string {
	return filepath.Join(expandHome("~/.openclaw"), "config.yaml")
}

// LoadConfig reads path over the defaults. An empty path falls back to
// ~/.openclaw/config.yaml; a missing default file is not an error, a
// missing explicit file is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if explicit {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvedStateDir returns the state directory with ~ expanded.
func (c Config) ResolvedStateDir() string {
	return expandHome(c.StateDir)
}

// LogLevel maps the config string onto a logging level.
func (c Config) LogLevel() logging.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
