// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/ux"
)

// --- Global Command Variables ---
var (
	config     Config
	configPath string

	stateDirFlag     string
	credentialsPass  string // --credentials-password, else OPENCLAW_CREDENTIALS_PASSWORD
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	userRole      string
	userPassword  string
	auditLines    int
	auditFollow   bool
	auditJSON     bool
	auditEvent    string
	auditActor    string
	auditSince    string
	tlsDays       int
	revokeAllFlag bool

	rootCmd = &cobra.Command{
		Use:   "openclaw",
		Short: "A cli to manage the OpenClaw authentication gateway",
		Long: `OpenClaw is a multi-user authentication and session gateway for
				self-hosted agent runtimes. The cli runs the gateway and
				administers users, 2FA, credentials-at-rest, TLS material,
				and the security audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}

			var err error
			config, err = LoadConfig(configPath)
			if err != nil {
				return err
			}
			if env := os.Getenv("OPENCLAW_STATE_DIR"); env != "" {
				config.StateDir = env
			}
			if stateDirFlag != "" {
				config.StateDir = stateDirFlag
			}
			return nil
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication gateway",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- User Lifecycle ---
	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage gateway user accounts",
	}
	userCreateCmd = &cobra.Command{
		Use:   "create [username]",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserCreate, // Defined in cmd_user.go
	}
	userListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all user accounts",
		RunE:  runUserList,
	}
	userDeleteCmd = &cobra.Command{
		Use:   "delete [username]",
		Short: "Delete a user account and revoke its sessions",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserDelete,
	}
	userPasswdCmd = &cobra.Command{
		Use:   "passwd [username]",
		Short: "Set a new password for a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserPasswd,
	}
	userResetPasswordCmd = &cobra.Command{
		Use:   "reset-password [username]",
		Short: "Reset a password using the account's recovery code",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserResetPassword,
	}
	userRenameCmd = &cobra.Command{
		Use:   "rename [current] [new]",
		Short: "Rename a user account",
		Args:  cobra.ExactArgs(2),
		RunE:  runUserRename,
	}
	userRecoveryCodeCmd = &cobra.Command{
		Use:   "recovery-code [username]",
		Short: "Issue a fresh numeric recovery code (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserRecoveryCode,
	}
	userRevokeCmd = &cobra.Command{
		Use:   "revoke [username]",
		Short: "Revoke all active sessions for a user",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runUserRevoke,
	}

	// --- 2FA ---
	userTotpSetupCmd = &cobra.Command{
		Use:   "totp-setup [username]",
		Short: "Enrol a user in TOTP 2FA; enabled once a code confirms",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserTotpSetup,
	}
	userTotpDisableCmd = &cobra.Command{
		Use:   "totp-disable [username]",
		Short: "Disable TOTP 2FA for a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserTotpDisable,
	}
	userTotpBackupRegenerateCmd = &cobra.Command{
		Use:   "totp-backup-regenerate [username]",
		Short: "Replace a user's 2FA backup codes",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserTotpBackupRegenerate,
	}

	// --- Credentials At Rest ---
	credentialsCmd = &cobra.Command{
		Use:   "credentials",
		Short: "Manage credential and session encryption at rest",
	}
	credentialsEncryptCmd = &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt the users file with an operator password",
		RunE:  runCredentialsEncrypt, // Defined in cmd_credentials.go
	}
	credentialsDecryptCmd = &cobra.Command{
		Use:   "decrypt",
		Short: "Rewrite the users file as plaintext JSON",
		RunE:  runCredentialsDecrypt,
	}
	credentialsRotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the machine key and re-encrypt persisted sessions",
		RunE:  runCredentialsRotate,
	}

	// --- TLS ---
	tlsCmd = &cobra.Command{
		Use:   "tls",
		Short: "Manage the gateway's self-signed TLS material",
	}
	tlsEnableCmd = &cobra.Command{
		Use:   "enable",
		Short: "Enable HTTPS, minting a self-signed certificate if needed",
		RunE:  runTLSEnable, // Defined in cmd_tls.go
	}
	tlsDisableCmd = &cobra.Command{
		Use:   "disable",
		Short: "Disable HTTPS (certificate material is kept)",
		RunE:  runTLSDisable,
	}
	tlsStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show TLS state and certificate fingerprint",
		RunE:  runTLSStatus,
	}
	tlsRegenerateCmd = &cobra.Command{
		Use:   "regenerate",
		Short: "Mint fresh certificate material, replacing the current pair",
		RunE:  runTLSRegenerate,
	}

	// --- Audit ---
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect the security audit log",
	}
	auditTailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit events",
		RunE:  runAuditTail, // Defined in cmd_audit.go
	}
	auditSearchCmd = &cobra.Command{
		Use:   "search",
		Short: "Search audit events across rotated files",
		RunE:  runAuditSearch,
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config.yaml (default ~/.openclaw/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "",
		"Override the state directory from the config file")
	rootCmd.PersistentFlags().StringVar(&credentialsPass, "credentials-password", "",
		"Password for an encrypted users file (or OPENCLAW_CREDENTIALS_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCreateCmd.Flags().StringVar(&userRole, "role", "operator",
		"Account role: admin, operator, or read-only")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "",
		"Initial password (prompted when omitted)")
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userResetPasswordCmd)
	userCmd.AddCommand(userRenameCmd)
	userCmd.AddCommand(userRecoveryCodeCmd)
	userCmd.AddCommand(userRevokeCmd)
	userRevokeCmd.Flags().BoolVar(&revokeAllFlag, "all", false,
		"Revoke every session in the store, not just one user's")
	userCmd.AddCommand(userTotpSetupCmd)
	userCmd.AddCommand(userTotpDisableCmd)
	userCmd.AddCommand(userTotpBackupRegenerateCmd)

	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsEncryptCmd)
	credentialsCmd.AddCommand(credentialsDecryptCmd)
	credentialsCmd.AddCommand(credentialsRotateCmd)

	rootCmd.AddCommand(tlsCmd)
	tlsCmd.AddCommand(tlsEnableCmd)
	tlsEnableCmd.Flags().IntVar(&tlsDays, "days", 365, "Certificate validity in days")
	tlsCmd.AddCommand(tlsDisableCmd)
	tlsCmd.AddCommand(tlsStatusCmd)
	tlsCmd.AddCommand(tlsRegenerateCmd)
	tlsRegenerateCmd.Flags().IntVar(&tlsDays, "days", 365, "Certificate validity in days")

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&auditLines, "lines", "n", 20, "Number of events to show")
	auditTailCmd.Flags().BoolVarP(&auditFollow, "follow", "f", false, "Keep the log open and stream new events")
	auditTailCmd.Flags().BoolVar(&auditJSON, "json", false, "Print raw JSONL instead of formatted rows")
	auditCmd.AddCommand(auditSearchCmd)
	auditSearchCmd.Flags().StringVar(&auditEvent, "event", "", "Substring match on the event identifier")
	auditSearchCmd.Flags().StringVar(&auditActor, "actor", "", "Substring match on the actor")
	auditSearchCmd.Flags().StringVar(&auditSince, "since", "", "Window: a duration (24h) or an RFC 3339 instant")
	auditSearchCmd.Flags().BoolVar(&auditJSON, "json", false, "Print raw JSONL instead of formatted rows")
}
