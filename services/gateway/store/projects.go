// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openclaw/openclaw/pkg/validation"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

const projectsDirName = "user-projects"

// projectsFile is the per-user document at
// <stateDir>/user-projects/<user>/projects.json. File payloads live
// next to it under files/<projectId>/<fileId>.
type projectsFile struct {
	Version  int                 `json:"version"`
	Projects []datatypes.Project `json:"projects"`
}

// ProjectsStore owns per-user project documents and file payloads.
// Project and file IDs are validated before they touch a path, so the
// store never builds a path from raw client input.
type ProjectsStore struct {
	mu       sync.Mutex
	dir      string
	validate *validator.Validate
}

// NewProjectsStore returns a store rooted at the state directory.
func NewProjectsStore(stateDir string) *ProjectsStore {
	return &ProjectsStore{
		dir:      filepath.Join(stateDir, projectsDirName),
		validate: validator.New(),
	}
}

func (p *ProjectsStore) userDir(username string) (string, error) {
	safe, err := validation.SanitizeUsername(username)
	if err != nil {
		return "", datatypes.Wrap(datatypes.KindInvalidInput, "invalid username", err)
	}
	return filepath.Join(p.dir, safe), nil
}

func (p *ProjectsStore) loadLocked(userDir string) (projectsFile, error) {
	raw, err := os.ReadFile(filepath.Join(userDir, "projects.json"))
	if os.IsNotExist(err) {
		return projectsFile{Version: 1}, nil
	}
	if err != nil {
		return projectsFile{}, datatypes.Wrap(datatypes.KindIO, "reading projects", err)
	}
	var f projectsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return projectsFile{}, datatypes.Wrap(datatypes.KindCorrupt, "parsing projects", err)
	}
	return f, nil
}

func (p *ProjectsStore) saveLocked(userDir string, f projectsFile) error {
	f.Version = 1
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "serializing projects", err)
	}
	if err := os.MkdirAll(userDir, 0o700); err != nil {
		return datatypes.Wrap(datatypes.KindIO, "creating projects dir", err)
	}
	if err := os.WriteFile(filepath.Join(userDir, "projects.json"), raw, 0o600); err != nil {
		return datatypes.Wrap(datatypes.KindIO, "writing projects", err)
	}
	return nil
}

// List returns the user's projects. File payloads stay on disk; only
// metadata is returned.
func (p *ProjectsStore) List(username string) ([]datatypes.Project, error) {
	userDir, err := p.userDir(username)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.loadLocked(userDir)
	if err != nil {
		return nil, err
	}
	return f.Projects, nil
}

// Create adds a project. The ID must match the project ID pattern and
// be unique for the user; the per-user cap applies.
func (p *ProjectsStore) Create(username string, proj datatypes.Project) (datatypes.Project, error) {
	if !datatypes.ValidProjectID(proj.ID) {
		return datatypes.Project{}, datatypes.E(datatypes.KindInvalidInput,
			fmt.Sprintf("invalid project id %q", proj.ID))
	}
	proj.Files = nil
	proj.CreatedAt = time.Now().UTC()
	if err := p.validate.Struct(proj); err != nil {
		return datatypes.Project{}, datatypes.Wrap(datatypes.KindInvalidInput, "invalid project", err)
	}

	userDir, err := p.userDir(username)
	if err != nil {
		return datatypes.Project{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.loadLocked(userDir)
	if err != nil {
		return datatypes.Project{}, err
	}
	if len(f.Projects) >= datatypes.MaxProjectsPerUser {
		return datatypes.Project{}, datatypes.E(datatypes.KindResourceLimit,
			fmt.Sprintf("project cap reached (%d)", datatypes.MaxProjectsPerUser))
	}
	for _, existing := range f.Projects {
		if existing.ID == proj.ID {
			return datatypes.Project{}, datatypes.E(datatypes.KindConflict,
				fmt.Sprintf("project %q already exists", proj.ID))
		}
	}
	f.Projects = append(f.Projects, proj)
	if err := p.saveLocked(userDir, f); err != nil {
		return datatypes.Project{}, err
	}
	return proj, nil
}

// Delete removes a project and its file payload directory.
func (p *ProjectsStore) Delete(username, projectID string) error {
	if !datatypes.ValidProjectID(projectID) {
		return datatypes.E(datatypes.KindInvalidInput, fmt.Sprintf("invalid project id %q", projectID))
	}
	userDir, err := p.userDir(username)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.loadLocked(userDir)
	if err != nil {
		return err
	}
	idx := -1
	for i := range f.Projects {
		if f.Projects[i].ID == projectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("project %q not found", projectID))
	}
	f.Projects = append(f.Projects[:idx], f.Projects[idx+1:]...)
	if err := p.saveLocked(userDir, f); err != nil {
		return err
	}
	os.RemoveAll(filepath.Join(userDir, "files", projectID))
	return nil
}

// AddFile decodes a base64 payload, enforces the size and count caps,
// writes the payload to disk, and records the metadata.
func (p *ProjectsStore) AddFile(username, projectID, fileName, mimeType, sessionKey, payloadB64 string) (datatypes.ProjectFile, error) {
	if !datatypes.ValidProjectID(projectID) {
		return datatypes.ProjectFile{}, datatypes.E(datatypes.KindInvalidInput,
			fmt.Sprintf("invalid project id %q", projectID))
	}
	if fileName == "" {
		return datatypes.ProjectFile{}, datatypes.E(datatypes.KindInvalidInput, "file name is required")
	}
	if len(payloadB64) > datatypes.MaxFilePayloadBytes {
		return datatypes.ProjectFile{}, datatypes.E(datatypes.KindResourceLimit,
			fmt.Sprintf("file payload exceeds %d bytes encoded", datatypes.MaxFilePayloadBytes))
	}
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return datatypes.ProjectFile{}, datatypes.Wrap(datatypes.KindInvalidInput, "invalid base64 payload", err)
	}

	userDir, err := p.userDir(username)
	if err != nil {
		return datatypes.ProjectFile{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.loadLocked(userDir)
	if err != nil {
		return datatypes.ProjectFile{}, err
	}
	idx := -1
	for i := range f.Projects {
		if f.Projects[i].ID == projectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return datatypes.ProjectFile{}, datatypes.E(datatypes.KindNotFound,
			fmt.Sprintf("project %q not found", projectID))
	}
	if len(f.Projects[idx].Files) >= datatypes.MaxFilesPerProject {
		return datatypes.ProjectFile{}, datatypes.E(datatypes.KindResourceLimit,
			fmt.Sprintf("file cap reached (%d)", datatypes.MaxFilesPerProject))
	}

	file := datatypes.ProjectFile{
		ID:         uuid.NewString(),
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  int64(len(payload)),
		SessionKey: sessionKey,
		AddedAt:    time.Now().UTC(),
	}
	fileDir := filepath.Join(userDir, "files", projectID)
	if err := os.MkdirAll(fileDir, 0o700); err != nil {
		return datatypes.ProjectFile{}, datatypes.Wrap(datatypes.KindIO, "creating files dir", err)
	}
	if err := os.WriteFile(filepath.Join(fileDir, file.ID), payload, 0o600); err != nil {
		return datatypes.ProjectFile{}, datatypes.Wrap(datatypes.KindIO, "writing file payload", err)
	}

	f.Projects[idx].Files = append(f.Projects[idx].Files, file)
	if err := p.saveLocked(userDir, f); err != nil {
		os.Remove(filepath.Join(fileDir, file.ID))
		return datatypes.ProjectFile{}, err
	}
	return file, nil
}

// RemoveFile deletes a file's metadata and payload.
func (p *ProjectsStore) RemoveFile(username, projectID, fileID string) error {
	if !datatypes.ValidProjectID(projectID) {
		return datatypes.E(datatypes.KindInvalidInput, fmt.Sprintf("invalid project id %q", projectID))
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return datatypes.Wrap(datatypes.KindInvalidInput, "invalid file id", err)
	}
	userDir, err := p.userDir(username)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.loadLocked(userDir)
	if err != nil {
		return err
	}
	for i := range f.Projects {
		if f.Projects[i].ID != projectID {
			continue
		}
		files := f.Projects[i].Files
		for j := range files {
			if files[j].ID == fileID {
				f.Projects[i].Files = append(files[:j], files[j+1:]...)
				if err := p.saveLocked(userDir, f); err != nil {
					return err
				}
				os.Remove(filepath.Join(userDir, "files", projectID, fileID))
				return nil
			}
		}
		return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("file %q not found", fileID))
	}
	return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("project %q not found", projectID))
}
