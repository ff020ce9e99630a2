// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP request gateway and the typed client
// for the expertdesk chat backend.
//
// The gateway handles transport concerns only: session-header injection,
// status-keyed retry with backoff (401 refresh, 429 exponential, 5xx
// milder exponential, network-level linear), and de-duplication of
// identical in-flight requests with a short post-settlement grace window.
// It never interprets business payloads.
//
// The client layers the backend's REST surface on top and is the
// normalization boundary: alternate field names and union response shapes
// are resolved here into the canonical model types.
//
// # Key Types
//
//   - Gateway: retrying, de-duplicating HTTP transport
//   - Client: typed endpoint surface (sessions, conversations, chat)
//   - TokenProvider: session-token source wired in by the session manager
//   - TransportError, AuthError, ValidationError, NotFoundError,
//     RateLimitError, ServerError: the error taxonomy
//
// # Usage
//
//	gw := api.NewGateway(log)
//	client := api.NewClient(gw, cfg.Backend.BaseURL, log)
//	gw.SetTokenProvider(sessionManager)
//	convs, err := client.ListConversations(ctx)
package api
