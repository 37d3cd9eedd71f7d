// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"regexp"
	"time"
)

// =============================================================================
// Project Records
// =============================================================================

// Resource caps for per-user project storage.
const (
	MaxProjectsPerUser = 100
	MaxFilesPerProject = 500

	// MaxFilePayloadBytes bounds the base64-encoded file payload as
	// received over the privileged channel.
	MaxFilePayloadBytes = 35 * 1024 * 1024
)

// ProjectIDPattern constrains client-chosen project identifiers. The
// ID is used as a directory name, so the first character excludes
// separators and dashes.
var ProjectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Project groups chat sessions and uploaded files under a user-chosen
// identifier. Projects belong to exactly one user and are never shared.
type Project struct {
	ID          string        `json:"id"          validate:"required"`
	Name        string        `json:"name"        validate:"required,max=120"`
	Color       string        `json:"color,omitempty" validate:"omitempty,max=32"`
	SessionKeys []string      `json:"sessionKeys,omitempty"`
	Files       []ProjectFile `json:"files,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ProjectFile is metadata for one uploaded file. The payload itself
// lives on disk next to the project document; only metadata travels
// through list operations.
type ProjectFile struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	SessionKey string    `json:"sessionKey,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
}

// ValidProjectID reports whether id satisfies ProjectIDPattern.
func ValidProjectID(id string) bool {
	return ProjectIDPattern.MatchString(id)
}
