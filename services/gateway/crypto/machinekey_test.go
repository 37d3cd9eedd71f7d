// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateMachineKey(t *testing.T) {
	dir := t.TempDir()

	k1, err := LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	defer k1.Destroy()
	require.Len(t, k1.Bytes(), 32)

	// The file exists, is 0600, and holds hex plus a trailing newline.
	path := MachineKeyPath(dir)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
	assert.Len(t, strings.TrimSpace(string(raw)), 64)

	// A second load returns the same key.
	k2, err := LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes())
}

func TestLoadOrCreateMachineKeyRegeneratesBadFile(t *testing.T) {
	dir := t.TempDir()
	path := MachineKeyPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

	for _, content := range []string{"", "not-hex", "abcd"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		k, err := LoadOrCreateMachineKey(dir, nil)
		require.NoError(t, err)
		assert.Len(t, k.Bytes(), 32)
		k.Destroy()
	}
}

func TestGenerateMachineKeyReplaces(t *testing.T) {
	dir := t.TempDir()

	k1, err := LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	old := append([]byte(nil), k1.Bytes()...)
	k1.Destroy()

	k2, err := GenerateMachineKey(dir)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.NotEqual(t, old, k2.Bytes())
}
