// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/ux"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/store"
)

func runCredentialsEncrypt(cmd *cobra.Command, args []string) error {
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if creds.Encrypted() {
		return fmt.Errorf("credentials file is already encrypted")
	}

	password, err := promptNewPassword("Encryption password")
	if err != nil {
		return err
	}
	if err := creds.Encrypt(password); err != nil {
		return err
	}

	ux.Success("Credentials file encrypted at rest")
	ux.Warning("The gateway now needs this password at startup. There is no recovery if it is lost.")
	return nil
}

func runCredentialsDecrypt(cmd *cobra.Command, args []string) error {
	// openCredentials prompts for the password when the file carries
	// the envelope, so a successful open proves the operator knows it.
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if !creds.Encrypted() {
		return fmt.Errorf("credentials file is not encrypted")
	}
	if err := creds.Decrypt(); err != nil {
		return err
	}

	ux.Success("Credentials file rewritten as plaintext JSON")
	return nil
}

func runCredentialsRotate(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()
	key, err := crypto.LoadOrCreateMachineKey(stateDir, nil)
	if err != nil {
		return err
	}

	sessions := store.NewSessionStore()
	defer sessions.StopSweeper()
	persistence := store.NewSessionPersistence(stateDir, key, sessions, nil)
	restored := persistence.Load()

	rotated, err := persistence.RotateKey()
	if err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Machine key rotated; %d of %d persisted sessions re-sealed", rotated, restored))
	return nil
}
