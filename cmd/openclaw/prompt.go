// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/openclaw/openclaw/pkg/ux"
)

const minPasswordLength = 8

// promptSecret asks for a hidden value. When stdin is not a terminal
// (scripts, pipes) it reads one line instead, so automation can feed
// secrets without a TTY.
func promptSecret(title string) (string, error) {
	if !ux.IsInteractive() {
		return readStdinLine()
	}
	var value string
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", err
	}
	return value, nil
}

// promptNewPassword asks for a password twice and enforces the minimum
// length. The confirmation is skipped for piped input.
func promptNewPassword(title string) (string, error) {
	if !ux.IsInteractive() {
		pw, err := readStdinLine()
		if err != nil {
			return "", err
		}
		return pw, validatePassword(pw)
	}

	var password, confirm string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Validate(validatePassword).
			Value(&password),
		huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&confirm),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func readStdinLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
