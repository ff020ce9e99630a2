// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory conversation collection and keeps it
// reconciled with the backend and mirrored to the local cache.
//
// The backend list is the source of truth: a successful load replaces
// the collection wholesale. The local cache exists only to hydrate the
// collection instantly on cold start; the first successful load
// supersedes it. Zero conversations is a valid terminal state — the
// store never creates a conversation on its own.
//
// # Key Types
//
//   - Store: the conversation collection and its operations
//   - CreateOptions: per-creation overrides (title, language, RAG flags)
//   - ConversationCreateError: backend returned no usable conversation id
//
// # Usage
//
//	st := store.New(client, cache, log)
//	st.Hydrate(ctx)
//	ok, err := st.LoadConversations(ctx, false)
//	conv, err := st.CreateConversation(ctx, model.ServiceSecurityExpert, store.CreateOptions{})
//
// Loads are single-flight with a short cooldown; creation is serialized
// process-wide and reuses a conversation created moments earlier for the
// same service instead of stacking duplicates.
package store
