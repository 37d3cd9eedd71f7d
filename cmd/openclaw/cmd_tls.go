// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/ux"
	"github.com/openclaw/openclaw/services/gateway/crypto"
)

const (
	tlsCertName = "gateway-cert.pem"
	tlsKeyName  = "gateway-key.pem"

	// disabledSuffix parks the material without destroying it, so
	// enable/disable round-trips keep the fingerprint stable.
	disabledSuffix = ".off"
)

func tlsDir(stateDir string) string {
	return filepath.Join(stateDir, "gateway", "tls")
}

func tlsCertPath(stateDir string) string {
	return filepath.Join(tlsDir(stateDir), tlsCertName)
}

func tlsKeyPath(stateDir string) string {
	return filepath.Join(tlsDir(stateDir), tlsKeyName)
}

// tlsEnabled reports whether both PEM files are in place.
func tlsEnabled(stateDir string) bool {
	_, certErr := os.Stat(tlsCertPath(stateDir))
	_, keyErr := os.Stat(tlsKeyPath(stateDir))
	return certErr == nil && keyErr == nil
}

func writeTLSMaterial(stateDir string, mat *crypto.CertMaterial) error {
	dir := tlsDir(stateDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating tls dir: %w", err)
	}
	if err := os.WriteFile(tlsCertPath(stateDir), mat.CertPEM, 0o600); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	if err := os.WriteFile(tlsKeyPath(stateDir), mat.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

func runTLSEnable(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()
	if tlsEnabled(stateDir) {
		ux.Info("TLS is already enabled")
		return nil
	}

	// A previously disabled pair is restored instead of re-minted.
	parkedCert := tlsCertPath(stateDir) + disabledSuffix
	parkedKey := tlsKeyPath(stateDir) + disabledSuffix
	if _, err := os.Stat(parkedCert); err == nil {
		if err := os.Rename(parkedCert, tlsCertPath(stateDir)); err != nil {
			return err
		}
		if err := os.Rename(parkedKey, tlsKeyPath(stateDir)); err != nil {
			return err
		}
		ux.Success("TLS re-enabled with the existing certificate")
		return nil
	}

	mat, err := crypto.GenerateSelfSigned("localhost", tlsDays)
	if err != nil {
		return err
	}
	if err := writeTLSMaterial(stateDir, mat); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Self-signed certificate minted (%d days)", tlsDays))
	ux.Muted("Restart the gateway to serve HTTPS. Browsers must trust the leaf explicitly.")
	return nil
}

func runTLSDisable(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()
	if !tlsEnabled(stateDir) {
		ux.Info("TLS is already disabled")
		return nil
	}
	if err := os.Rename(tlsCertPath(stateDir), tlsCertPath(stateDir)+disabledSuffix); err != nil {
		return err
	}
	if err := os.Rename(tlsKeyPath(stateDir), tlsKeyPath(stateDir)+disabledSuffix); err != nil {
		return err
	}
	ux.Success("TLS disabled; certificate material kept for re-enable")
	return nil
}

func runTLSStatus(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()
	if !tlsEnabled(stateDir) {
		ux.KeyValue("TLS", "disabled")
		return nil
	}

	cert, err := readCertificate(tlsCertPath(stateDir))
	if err != nil {
		return err
	}

	ux.KeyValue("TLS", "enabled")
	ux.KeyValue("Subject", cert.Subject.CommonName)
	ux.KeyValue("Fingerprint", certFingerprint(cert))
	ux.KeyValue("Not before", cert.NotBefore.Format(time.RFC3339))
	ux.KeyValue("Not after", cert.NotAfter.Format(time.RFC3339))
	if remaining := time.Until(cert.NotAfter); remaining < 30*24*time.Hour {
		ux.Warning(fmt.Sprintf("Certificate expires in %d days; run: openclaw tls regenerate",
			int(remaining.Hours()/24)))
	}
	return nil
}

func runTLSRegenerate(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()
	mat, err := crypto.GenerateSelfSigned("localhost", tlsDays)
	if err != nil {
		return err
	}
	if err := writeTLSMaterial(stateDir, mat); err != nil {
		return err
	}
	cert, err := readCertificate(tlsCertPath(stateDir))
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Fresh certificate minted (%d days)", tlsDays))
	ux.KeyValue("Fingerprint", certFingerprint(cert))
	return nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s does not contain a PEM certificate", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

// certFingerprint renders the SHA-256 digest of the DER bytes in the
// colon-separated form browsers display.
func certFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
