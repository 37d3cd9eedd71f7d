// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/openclaw/openclaw/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// A cancelled prompt is not a failure.
		if errors.Is(err, huh.ErrUserAborted) {
			ux.Muted("Cancelled.")
			os.Exit(0)
		}
		ux.Error(err.Error())
		os.Exit(1)
	}
}
