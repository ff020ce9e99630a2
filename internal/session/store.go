// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"

	"github.com/jeranaias/expertdesk/internal/model"
)

// =============================================================================
// TOKEN STORE
// =============================================================================

// TokenStore persists the session token across restarts. Load returns a
// zero token (not an error) when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (model.SessionToken, error)
	Save(ctx context.Context, token model.SessionToken) error
	Clear(ctx context.Context) error
}

// MemoryStore is an in-memory TokenStore for tests and for running
// without any persistence configured.
type MemoryStore struct {
	mu    sync.Mutex
	token model.SessionToken
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load returns the stored token.
func (s *MemoryStore) Load(_ context.Context) (model.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Save replaces the stored token.
func (s *MemoryStore) Save(_ context.Context, token model.SessionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear discards the stored token.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = model.SessionToken{}
	return nil
}
