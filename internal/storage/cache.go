// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/expertdesk/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           INTEGER PRIMARY KEY,
	service      TEXT NOT NULL,
	title        TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	payload      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	kvSessionToken         = "session_token"
	kvSelectedConversation = "selected_conversation"
)

// =============================================================================
// CACHE
// =============================================================================

// Cache is the SQLite-backed local mirror of backend state. All methods
// are safe for concurrent use; SQLite serializes writers through a
// single connection.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the cache database at path and applies the
// schema. The parent directory is created as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// One writer connection keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure cache: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// Path returns the database file location.
func (c *Cache) Path() string { return c.path }

// Close releases the database handle.
func (c *Cache) Close() error { return c.db.Close() }

// =============================================================================
// CONVERSATION MIRROR
// =============================================================================

// SaveConversations replaces the cached conversation set wholesale. The
// backend list is authoritative; anything cached that the backend no
// longer reports is gone.
func (c *Cache) SaveConversations(ctx context.Context, convs []model.Conversation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (id, service, title, last_updated, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i := range convs {
		conv := &convs[i]
		payload, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation %d: %w", conv.ID, err)
		}
		_, err = stmt.ExecContext(ctx, conv.ID, string(conv.Service), conv.Title,
			conv.LastUpdated.UTC().Format(time.RFC3339Nano), payload)
		if err != nil {
			return fmt.Errorf("insert conversation %d: %w", conv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// SaveConversation upserts a single conversation without touching the
// rest of the mirror.
func (c *Cache) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %d: %w", conv.ID, err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO conversations (id, service, title, last_updated, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			service = excluded.service,
			title = excluded.title,
			last_updated = excluded.last_updated,
			payload = excluded.payload`,
		conv.ID, string(conv.Service), conv.Title,
		conv.LastUpdated.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("upsert conversation %d: %w", conv.ID, err)
	}
	return nil
}

// LoadConversations returns every cached conversation, most recently
// updated first. Rows that fail to decode are skipped, not fatal: a
// partially readable cache still gives the user their history.
func (c *Cache) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT payload FROM conversations ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			continue
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation drops a single conversation from the mirror.
func (c *Cache) DeleteConversation(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return nil
}

// =============================================================================
// SELECTED CONVERSATION
// =============================================================================

// SetSelectedConversation remembers which conversation is active so the
// next run reopens it. Zero clears the selection.
func (c *Cache) SetSelectedConversation(ctx context.Context, id int64) error {
	if id == 0 {
		return c.kvDelete(ctx, kvSelectedConversation)
	}
	return c.kvSet(ctx, kvSelectedConversation, fmt.Sprintf("%d", id))
}

// SelectedConversation returns the remembered selection, or zero.
func (c *Cache) SelectedConversation(ctx context.Context) (int64, error) {
	value, err := c.kvGet(ctx, kvSelectedConversation)
	if err != nil || value == "" {
		return 0, err
	}
	var id int64
	if _, err := fmt.Sscanf(value, "%d", &id); err != nil {
		return 0, nil
	}
	return id, nil
}

// =============================================================================
// SESSION TOKEN STORE
// =============================================================================

// tokenRecord is the kv payload for the session token.
type tokenRecord struct {
	Value         string    `json:"value"`
	UserID        string    `json:"user_id,omitempty"`
	InitializedAt time.Time `json:"initialized_at,omitempty"`
}

// Load implements session.TokenStore.
func (c *Cache) Load(ctx context.Context) (model.SessionToken, error) {
	value, err := c.kvGet(ctx, kvSessionToken)
	if err != nil || value == "" {
		return model.SessionToken{}, err
	}
	var rec tokenRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		// Corrupt record reads as absent; the next save overwrites it.
		return model.SessionToken{}, nil
	}
	return model.SessionToken{
		Value:         rec.Value,
		UserID:        rec.UserID,
		InitializedAt: rec.InitializedAt,
	}, nil
}

// Save implements session.TokenStore.
func (c *Cache) Save(ctx context.Context, token model.SessionToken) error {
	payload, err := json.Marshal(tokenRecord{
		Value:         token.Value,
		UserID:        token.UserID,
		InitializedAt: token.InitializedAt,
	})
	if err != nil {
		return fmt.Errorf("encode session token: %w", err)
	}
	return c.kvSet(ctx, kvSessionToken, string(payload))
}

// Clear implements session.TokenStore.
func (c *Cache) Clear(ctx context.Context) error {
	return c.kvDelete(ctx, kvSessionToken)
}

// =============================================================================
// KV PLUMBING
// =============================================================================

func (c *Cache) kvGet(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (c *Cache) kvSet(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (c *Cache) kvDelete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
