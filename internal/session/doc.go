// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of the backend session token.
//
// The manager lazily initializes a session on first use: it prefers a
// token cached in local storage, validates it against the backend, and
// only creates a fresh session when the cached token is definitively
// dead or absent. Indeterminate validation outcomes (backend errors,
// unexpected payloads) never discard a cached token.
//
// # Key Types
//
//   - Manager: token lifecycle; implements the gateway's TokenProvider
//   - TokenStore: pluggable persistence for the cached token
//   - FileStore: JSON state file mirror under the config directory
//
// # Usage
//
//	mgr := session.NewManager(client, log, primary, mirror)
//	client.Gateway().SetTokenProvider(mgr)
//	token, err := mgr.Token(ctx)
//
// Concurrent callers share a single initialization: no matter how many
// goroutines ask for a token at once, at most one create-session request
// is in flight.
package session
