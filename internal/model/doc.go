// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages
// and session tokens.
//
// All wire-format ambiguity (alternate field names, string-or-number ids)
// is resolved at the API boundary; the types in this package are the one
// canonical internal shape. A Message id is either a backend-assigned
// integer or a client-side temporary string, never both.
//
// # Key Types
//
//   - Conversation: one chat thread with its ordered message sequence
//   - Message: a single user or assistant message with delivery status
//   - MessageID: integer-or-temporary-string message identity
//   - PendingDelivery: an in-flight asynchronous reply awaiting polling
//   - SessionToken: the opaque backend session credential
//   - Service: a backend chat service (endpoint, domain, welcome message)
package model
