// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/expertdesk/internal/model"
	"github.com/jeranaias/expertdesk/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore mirrors the session token to a JSON state file. Writes are
// atomic (temp file + rename) so a crash mid-write never leaves a
// corrupt state file behind.
//
// SECURITY: the file holds a live credential, so it is written 0600.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given path. The parent
// directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.path }

type stateFile struct {
	Token         string `json:"token"`
	UserID        string `json:"user_id,omitempty"`
	InitializedAt string `json:"initialized_at,omitempty"`
}

// Load reads the state file. A missing file is not an error; it simply
// yields a zero token.
func (s *FileStore) Load(_ context.Context) (model.SessionToken, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return model.SessionToken{}, nil
	}
	if err != nil {
		return model.SessionToken{}, fmt.Errorf("read session state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file is treated as absent. The next save
		// overwrites it.
		return model.SessionToken{}, nil
	}
	token := model.SessionToken{Value: state.Token, UserID: state.UserID}
	if state.InitializedAt != "" {
		if ts, err := time.Parse(time.RFC3339, state.InitializedAt); err == nil {
			token.InitializedAt = ts
		}
	}
	return token, nil
}

// Save writes the token atomically.
func (s *FileStore) Save(_ context.Context, token model.SessionToken) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session state dir: %w", err)
	}

	state := stateFile{Token: token.Value, UserID: token.UserID}
	if !token.InitializedAt.IsZero() {
		state.InitializedAt = token.InitializedAt.Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// Clear removes the state file.
func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state: %w", err)
	}
	return nil
}
