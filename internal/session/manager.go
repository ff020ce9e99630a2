// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/api"
	"github.com/jeranaias/expertdesk/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// InitError means no session could be established: the cached token was
// unusable and creating a fresh session failed. The application cannot
// talk to the backend until this resolves.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the session token lifecycle. It implements the gateway's
// TokenProvider: authenticated requests pull their token from here, and
// 401 responses route back through RefreshOn401.
//
// Stores are tried in order on load; every store receives each save and
// clear. Store failures are logged, never fatal: a broken cache must not
// take the session down with it.
type Manager struct {
	client *api.Client
	stores []TokenStore
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	token    model.SessionToken
	loaded   bool      // cached token has been consulted
	inflight *initCall // non-nil while an initialization is running
}

// initCall lets concurrent initializers share one outcome.
type initCall struct {
	done  chan struct{}
	token model.SessionToken
	err   error
}

// NewManager creates a session manager. Stores are optional; with none,
// every run starts a fresh session.
func NewManager(client *api.Client, log *zap.Logger, stores ...TokenStore) *Manager {
	return &Manager{
		client: client,
		stores: stores,
		log:    log,
		now:    time.Now,
	}
}

// Current returns the held token without triggering initialization.
func (m *Manager) Current() model.SessionToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Token returns the active session token, initializing a session first
// if none is held. Implements api.TokenProvider.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.token.IsZero() {
		token := m.token.Value
		m.mu.Unlock()
		return token, nil
	}
	call := m.beginInitLocked()
	m.mu.Unlock()

	return m.awaitInit(ctx, call)
}

// RefreshOn401 handles a request that came back 401. The held token is
// re-validated first: when the backend confirms it is still valid the
// 401 was transient and the token is kept. Only a definitive rejection
// (or a validation failure) discards it and starts a fresh session.
// Implements api.TokenProvider.
func (m *Manager) RefreshOn401(ctx context.Context) (string, error) {
	m.mu.Lock()
	held := m.token
	m.mu.Unlock()

	if !held.IsZero() {
		check, err := m.client.CheckSession(ctx, held.Value)
		if err == nil && check.Valid {
			m.log.Debug("session token still valid after 401; keeping it")
			return held.Value, nil
		}
		if err != nil {
			m.log.Warn("session validation failed after 401; reinitializing",
				zap.Error(err))
		} else {
			m.log.Info("session token rejected by backend; reinitializing")
		}
		m.discard(ctx, held)
	}

	m.mu.Lock()
	call := m.beginInitLocked()
	m.mu.Unlock()

	return m.awaitInit(ctx, call)
}

// Reset discards the held token and clears every store. The next
// authenticated request starts a fresh session.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.token = model.SessionToken{}
	m.loaded = true
	m.mu.Unlock()

	for _, s := range m.stores {
		if err := s.Clear(ctx); err != nil {
			m.log.Warn("failed to clear token store", zap.Error(err))
		}
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// beginInitLocked joins the in-flight initialization, or starts one.
// Caller holds m.mu.
func (m *Manager) beginInitLocked() *initCall {
	if m.inflight != nil {
		return m.inflight
	}
	call := &initCall{done: make(chan struct{})}
	m.inflight = call
	go m.runInit(call)
	return call
}

func (m *Manager) awaitInit(ctx context.Context, call *initCall) (string, error) {
	select {
	case <-call.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if call.err != nil {
		return "", call.err
	}
	return call.token.Value, nil
}

// runInit establishes a session: cached token if it survives validation,
// otherwise a freshly created one. Runs detached from any single
// caller's context so that one impatient caller cannot abort an
// initialization other callers are waiting on.
func (m *Manager) runInit(call *initCall) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := m.initialize(ctx)

	m.mu.Lock()
	if err == nil {
		m.token = token
	}
	m.inflight = nil
	m.mu.Unlock()

	call.token = token
	call.err = err
	close(call.done)
}

func (m *Manager) initialize(ctx context.Context) (model.SessionToken, error) {
	if cached := m.loadCached(ctx); !cached.IsZero() {
		check, err := m.client.CheckSession(ctx, cached.Value)
		switch {
		case err == nil && check.Valid:
			m.log.Debug("adopted cached session token",
				zap.String("user_id", check.UserID))
			if check.UserID != "" {
				cached.UserID = check.UserID
			}
			m.saveAll(ctx, cached)
			return cached, nil
		case err != nil || !check.Definitive:
			// Backend could not say either way — unreachable, or an
			// answer that was neither accept nor reject. Keep the
			// cached token rather than churn sessions on a transient
			// failure; only an explicit rejection discards it.
			m.log.Debug("session check indeterminate; keeping cached token",
				zap.Error(err))
			return cached, nil
		default:
			m.log.Info("cached session token rejected; creating new session")
			m.discard(ctx, cached)
		}
	}

	value, err := m.client.CreateSession(ctx)
	if err != nil {
		return model.SessionToken{}, &InitError{Err: err}
	}
	token := model.SessionToken{Value: value, InitializedAt: m.now()}
	m.saveAll(ctx, token)
	m.log.Info("session initialized")
	return token, nil
}

// =============================================================================
// STORE PLUMBING
// =============================================================================

// loadCached consults the stores once per process; afterwards the
// in-memory token is authoritative.
func (m *Manager) loadCached(ctx context.Context) model.SessionToken {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return model.SessionToken{}
	}
	m.loaded = true
	m.mu.Unlock()

	for _, s := range m.stores {
		token, err := s.Load(ctx)
		if err != nil {
			m.log.Warn("failed to load cached token", zap.Error(err))
			continue
		}
		if !token.IsZero() {
			return token
		}
	}
	return model.SessionToken{}
}

func (m *Manager) saveAll(ctx context.Context, token model.SessionToken) {
	for _, s := range m.stores {
		if err := s.Save(ctx, token); err != nil {
			m.log.Warn("failed to persist session token", zap.Error(err))
		}
	}
}

func (m *Manager) discard(ctx context.Context, held model.SessionToken) {
	m.mu.Lock()
	if m.token.Value == held.Value {
		m.token = model.SessionToken{}
	}
	m.mu.Unlock()

	for _, s := range m.stores {
		if err := s.Clear(ctx); err != nil {
			m.log.Warn("failed to clear token store", zap.Error(err))
		}
	}
}
