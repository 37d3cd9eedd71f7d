// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crypto

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// =============================================================================
// Machine Key
// =============================================================================

const (
	machineKeyLen  = 32
	machineKeyFile = "session-encryption-key"

	// machineKeyMaxAge triggers a non-fatal rotation warning on load.
	machineKeyMaxAge = 365 * 24 * time.Hour
)

// MachineKey is the per-host AES key protecting persisted sessions.
// The raw bytes live in a memguard locked buffer so they stay out of
// swap and core dumps.
type MachineKey struct {
	buf *memguard.LockedBuffer
}

// MachineKeyPath returns the on-disk location of the key under the
// state directory.
func MachineKeyPath(stateDir string) string {
	return filepath.Join(stateDir, "credentials", machineKeyFile)
}

// LoadOrCreateMachineKey reads the hex-encoded machine key, creating a
// fresh one when the file is absent, unreadable, or the wrong length.
// A key older than a year logs a warning but keeps working; rotation
// is an explicit administrative action.
func LoadOrCreateMachineKey(stateDir string, logger *slog.Logger) (*MachineKey, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := MachineKeyPath(stateDir)

	if raw, err := os.ReadFile(path); err == nil {
		decoded, decErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decErr == nil && len(decoded) == machineKeyLen {
			if info, statErr := os.Stat(path); statErr == nil {
				if age := time.Since(info.ModTime()); age > machineKeyMaxAge {
					logger.Warn("session encryption key is old, consider rotating",
						"path", path, "age_days", int(age.Hours()/24))
				}
			}
			return &MachineKey{buf: memguard.NewBufferFromBytes(decoded)}, nil
		}
		logger.Warn("session encryption key unreadable, regenerating", "path", path)
	}

	return GenerateMachineKey(stateDir)
}

// GenerateMachineKey writes a fresh key to disk (0600) and returns it.
// Any previous key is overwritten; sessions sealed under it become
// unreadable, which the persistence layer treats as an empty store.
func GenerateMachineKey(stateDir string) (*MachineKey, error) {
	raw, err := RandomBytes(machineKeyLen)
	if err != nil {
		return nil, err
	}
	path := MachineKeyPath(stateDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating credentials dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing machine key: %w", err)
	}
	return &MachineKey{buf: memguard.NewBufferFromBytes(raw)}, nil
}

// Bytes exposes the raw key for cipher construction. The slice aliases
// locked memory; callers must not retain it past the call.
func (k *MachineKey) Bytes() []byte {
	return k.buf.Bytes()
}

// Destroy wipes the key from memory. The MachineKey is unusable after.
func (k *MachineKey) Destroy() {
	if k.buf != nil {
		k.buf.Destroy()
	}
}
