// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable local cache backing the
// conversation store and the session manager.
//
// Conversations and the session token live in a single SQLite database
// under the user's config directory. The cache is a mirror of backend
// state, not a source of truth: the store hydrates from it on startup
// for instant history, then replaces everything wholesale once the
// backend answers.
//
// # Key Types
//
//   - Cache: SQLite-backed persistence for conversations and the token
//   - Debouncer: coalesces bursts of snapshot writes into one
//
// # Usage
//
//	cache, err := storage.Open(path)
//	defer cache.Close()
//	convs, err := cache.LoadConversations(ctx)
package storage
