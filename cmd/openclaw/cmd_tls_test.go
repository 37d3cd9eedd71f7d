// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/crypto"
)

func TestTLSMaterialLifecycle(t *testing.T) {
	stateDir := t.TempDir()
	assert.False(t, tlsEnabled(stateDir))

	mat, err := crypto.GenerateSelfSigned("localhost", 30)
	require.NoError(t, err)
	require.NoError(t, writeTLSMaterial(stateDir, mat))
	assert.True(t, tlsEnabled(stateDir))

	info, err := os.Stat(tlsKeyPath(stateDir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Parking the pair disables TLS without destroying the material.
	require.NoError(t, os.Rename(tlsCertPath(stateDir), tlsCertPath(stateDir)+disabledSuffix))
	require.NoError(t, os.Rename(tlsKeyPath(stateDir), tlsKeyPath(stateDir)+disabledSuffix))
	assert.False(t, tlsEnabled(stateDir))
}

func TestCertFingerprintFormat(t *testing.T) {
	stateDir := t.TempDir()
	mat, err := crypto.GenerateSelfSigned("localhost", 30)
	require.NoError(t, err)
	require.NoError(t, writeTLSMaterial(stateDir, mat))

	cert, err := readCertificate(tlsCertPath(stateDir))
	require.NoError(t, err)

	fp := certFingerprint(cert)
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`), fp)

	// Stable across reads of the same certificate.
	again, err := readCertificate(tlsCertPath(stateDir))
	require.NoError(t, err)
	assert.Equal(t, fp, certFingerprint(again))
}
