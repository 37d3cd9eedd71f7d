// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/ux"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/store"
)

const backupCodeCount = 10

// openCredentials opens the users file for the configured state dir,
// prompting for the operator password when the file is encrypted and
// none was supplied.
func openCredentials() (*store.CredentialsStore, error) {
	stateDir := config.ResolvedStateDir()
	pw := credentialsPass
	if pw == "" {
		pw = os.Getenv("OPENCLAW_CREDENTIALS_PASSWORD")
	}
	s, err := store.OpenCredentials(stateDir, pw, nil)
	if err != nil && pw == "" &&
		datatypes.KindOf(err) == datatypes.KindUnauthenticated && ux.IsInteractive() {
		pw, perr := promptSecret("Credentials password")
		if perr != nil {
			return nil, perr
		}
		return store.OpenCredentials(stateDir, pw, nil)
	}
	return s, err
}

// revokeSessions drops sessions from the encrypted mirror without a
// running gateway. username == "" drops everything.
func revokeSessions(username string) (int, error) {
	stateDir := config.ResolvedStateDir()
	key, err := crypto.LoadOrCreateMachineKey(stateDir, nil)
	if err != nil {
		return 0, err
	}
	defer key.Destroy()

	sessions := store.NewSessionStore()
	defer sessions.StopSweeper()
	persistence := store.NewSessionPersistence(stateDir, key, sessions, nil)
	persistence.Load()

	var n int
	if username == "" {
		n = sessions.DeleteAll()
	} else {
		n = sessions.DeleteByUser(username)
	}
	if n == 0 {
		return 0, nil
	}
	return n, persistence.Flush()
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	username := args[0]
	role := datatypes.Role(userRole)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q (admin, operator, read-only)", userRole)
	}

	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if creds.Has(username) {
		return fmt.Errorf("user %q already exists", username)
	}

	password := userPassword
	if password == "" {
		password, err = promptNewPassword(fmt.Sprintf("Password for %s", username))
		if err != nil {
			return err
		}
	} else if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := creds.Create(datatypes.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Created user %s (%s)", username, role))
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	users := creds.List()
	if len(users) == 0 {
		ux.Muted("No users. Create one with: openclaw user create <name>")
		return nil
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	ux.Title(fmt.Sprintf("Users (%d)", len(users)))
	for _, u := range users {
		notes := []string{string(u.Role)}
		if u.TotpEnabled {
			notes = append(notes, fmt.Sprintf("2FA, %d backup codes", len(u.BackupCodeHashes)))
		}
		if u.RecoveryCodeHash != "" {
			notes = append(notes, "recovery code set")
		}
		ux.UserStatus(u.Username, ux.IconBullet, strings.Join(notes, ", "))
	}
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if err := creds.Delete(username); err != nil {
		return err
	}
	revoked, err := revokeSessions(username)
	if err != nil {
		ux.Warning(fmt.Sprintf("User deleted, but session revocation failed: %v", err))
		return nil
	}
	ux.Success(fmt.Sprintf("Deleted user %s (%d sessions revoked)", username, revoked))
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if !creds.Has(username) {
		return fmt.Errorf("user %q not found", username)
	}
	password, err := promptNewPassword(fmt.Sprintf("New password for %s", username))
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := creds.UpdatePassword(username, hash); err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Password updated for %s", username))
	return nil
}

func runUserResetPassword(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	user, ok := creds.Get(username)
	if !ok {
		return fmt.Errorf("user %q not found", username)
	}
	if user.RecoveryCodeHash == "" {
		return fmt.Errorf("user %q has no recovery code; use passwd instead", username)
	}

	code, err := promptSecret("Recovery code")
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(strings.TrimSpace(code), user.RecoveryCodeHash) {
		return fmt.Errorf("recovery code does not match")
	}

	password, err := promptNewPassword(fmt.Sprintf("New password for %s", username))
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := creds.UpdatePassword(username, hash); err != nil {
		return err
	}
	// The code is single use: clear it and force re-login everywhere.
	if err := creds.UpdateRecoveryCode(username, ""); err != nil {
		return err
	}
	revoked, _ := revokeSessions(username)

	ux.Success(fmt.Sprintf("Password reset for %s (%d sessions revoked)", username, revoked))
	ux.Muted("The recovery code has been consumed. Issue a new one with: openclaw user recovery-code " + username)
	return nil
}

func runUserRename(cmd *cobra.Command, args []string) error {
	current, next := args[0], args[1]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if err := creds.UpdateUsername(current, next); err != nil {
		return err
	}
	// Persisted sessions are keyed by the old name; drop them.
	revoked, _ := revokeSessions(current)
	ux.Success(fmt.Sprintf("Renamed %s to %s (%d sessions revoked)", current, next, revoked))
	return nil
}

func runUserRecoveryCode(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if !creds.Has(username) {
		return fmt.Errorf("user %q not found", username)
	}

	code, err := generateRecoveryCode()
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(code)
	if err != nil {
		return err
	}
	if err := creds.UpdateRecoveryCode(username, hash); err != nil {
		return err
	}

	ux.Box("Recovery code for "+username, code)
	ux.Warning("This code is shown once and stored only as a hash. Keep it safe.")
	return nil
}

func runUserRevoke(cmd *cobra.Command, args []string) error {
	if revokeAllFlag {
		revoked, err := revokeSessions("")
		if err != nil {
			return err
		}
		ux.Success(fmt.Sprintf("Revoked %d sessions", revoked))
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("a username is required unless --all is given")
	}
	revoked, err := revokeSessions(args[0])
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Revoked %d sessions for %s", revoked, args[0]))
	return nil
}

// =============================================================================
// 2FA Enrolment
// =============================================================================
//
// Enrolment is a two-step state machine: setup parks the account in a
// pending state (secret stored, 2FA not yet enforced at login) and only
// a correct authenticator code promotes it to enabled. Every transition
// first re-verifies the account password, and leaving the enabled state
// additionally demands a live code, so a walked-up-to terminal cannot
// silently strip or reset a second factor.

// confirmAccountPassword prompts for the account's current password and
// verifies it against the stored hash.
func confirmAccountPassword(user datatypes.User) error {
	pw, err := promptSecret(fmt.Sprintf("Current password for %s", user.Username))
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(pw, user.PasswordHash) {
		return fmt.Errorf("password does not match")
	}
	return nil
}

// beginTotpEnrolment stores a fresh secret and backup codes without
// enabling enforcement. The account stays in this pending state until
// confirmTotpEnrolment sees a correct code; re-running setup replaces
// the pending secret.
func beginTotpEnrolment(creds *store.CredentialsStore, username string) (secret string, codes []string, err error) {
	secret, err = crypto.GenerateTotpSecret()
	if err != nil {
		return "", nil, err
	}
	codes, hashes, err := mintBackupCodes(backupCodeCount)
	if err != nil {
		return "", nil, err
	}
	if err := creds.UpdateTotp(username, store.TotpUpdate{
		Secret:           &secret,
		BackupCodeHashes: &hashes,
	}); err != nil {
		return "", nil, err
	}
	return secret, codes, nil
}

// confirmTotpEnrolment promotes a pending enrolment to enabled once the
// operator proves their authenticator produces the right codes. The
// matched code is persisted as used so it cannot double as the first
// login code.
func confirmTotpEnrolment(creds *store.CredentialsStore, username, code string, now time.Time) error {
	user, ok := creds.Get(username)
	if !ok {
		return fmt.Errorf("user %q not found", username)
	}
	if user.TotpSecret == "" {
		return fmt.Errorf("no pending enrolment for %q", username)
	}
	matched, ok := crypto.VerifyTotpCode(user.TotpSecret, strings.TrimSpace(code), user.LastUsedTotpCode, now)
	if !ok {
		return fmt.Errorf("code does not match; enrolment stays pending")
	}
	enabled := true
	return creds.UpdateTotp(username, store.TotpUpdate{
		Enabled:      &enabled,
		LastUsedCode: &matched,
	})
}

// verifyTotpProof checks a live code against the account's enabled
// secret and records it as used.
func verifyTotpProof(creds *store.CredentialsStore, user datatypes.User, code string, now time.Time) error {
	matched, ok := crypto.VerifyTotpCode(user.TotpSecret, strings.TrimSpace(code), user.LastUsedTotpCode, now)
	if !ok {
		return fmt.Errorf("code does not match")
	}
	return creds.UpdateTotp(user.Username, store.TotpUpdate{LastUsedCode: &matched})
}

func runUserTotpSetup(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	user, ok := creds.Get(username)
	if !ok {
		return fmt.Errorf("user %q not found", username)
	}
	if user.TotpEnabled {
		return fmt.Errorf("2FA is already enabled for %q; disable it first", username)
	}
	if err := confirmAccountPassword(user); err != nil {
		return err
	}

	secret, codes, err := beginTotpEnrolment(creds, username)
	if err != nil {
		return err
	}
	ux.Box("Authenticator enrolment", crypto.TotpURI(username, secret))
	printBackupCodes(codes)
	ux.Muted("Scan the URI, then enter a code to finish enrolment.")

	code, err := promptSecret("Authenticator code")
	if err != nil {
		return err
	}
	if err := confirmTotpEnrolment(creds, username, code, time.Now()); err != nil {
		ux.Warning("2FA stays pending; re-run setup to try again with a fresh secret.")
		return err
	}
	ux.Success(fmt.Sprintf("2FA enabled for %s", username))
	return nil
}

func runUserTotpDisable(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	user, ok := creds.Get(username)
	if !ok {
		return fmt.Errorf("user %q not found", username)
	}
	if !user.TotpEnabled && user.TotpSecret == "" {
		return fmt.Errorf("2FA is not enabled for %q", username)
	}
	if err := confirmAccountPassword(user); err != nil {
		return err
	}
	// A pending enrolment never enforced codes, so the password alone
	// may abandon it. An enabled factor demands a live code too.
	if user.TotpEnabled {
		code, err := promptSecret("Authenticator code")
		if err != nil {
			return err
		}
		if err := verifyTotpProof(creds, user, code, time.Now()); err != nil {
			return err
		}
	}

	enabled := false
	if err := creds.UpdateTotp(username, store.TotpUpdate{Enabled: &enabled}); err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("2FA disabled for %s; secret and backup codes discarded", username))
	return nil
}

func runUserTotpBackupRegenerate(cmd *cobra.Command, args []string) error {
	username := args[0]
	creds, err := openCredentials()
	if err != nil {
		return err
	}
	user, ok := creds.Get(username)
	if !ok {
		return fmt.Errorf("user %q not found", username)
	}
	if !user.TotpEnabled {
		return fmt.Errorf("2FA is not enabled for %q", username)
	}
	if err := confirmAccountPassword(user); err != nil {
		return err
	}
	code, err := promptSecret("Authenticator code")
	if err != nil {
		return err
	}
	if err := verifyTotpProof(creds, user, code, time.Now()); err != nil {
		return err
	}

	codes, hashes, err := mintBackupCodes(backupCodeCount)
	if err != nil {
		return err
	}
	if err := creds.UpdateTotp(username, store.TotpUpdate{BackupCodeHashes: &hashes}); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Backup codes replaced for %s; old codes are void", username))
	printBackupCodes(codes)
	return nil
}

func mintBackupCodes(n int) (codes, hashes []string, err error) {
	codes, err = crypto.GenerateBackupCodes(n)
	if err != nil {
		return nil, nil, err
	}
	hashes = make([]string, len(codes))
	for i, c := range codes {
		hashes[i], err = crypto.HashPassword(c)
		if err != nil {
			return nil, nil, err
		}
	}
	return codes, hashes, nil
}

func printBackupCodes(codes []string) {
	ux.Box("Backup codes (single use, shown once)", strings.Join(codes, "\n"))
}

const recoveryCodeDigits = 10

// generateRecoveryCode returns a fresh numeric recovery code. Each
// digit is drawn with rejection sampling so the distribution is
// uniform.
func generateRecoveryCode() (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for b.Len() < recoveryCodeDigits {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating recovery code: %w", err)
		}
		// 250 is the largest multiple of 10 below 256.
		if buf[0] >= 250 {
			continue
		}
		b.WriteByte('0' + buf[0]%10)
	}
	return b.String(), nil
}
