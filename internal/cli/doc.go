// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the expertdesk command tree.
//
// Commands:
//
//	expertdesk chat                   Interactive chat REPL
//	expertdesk conversations list     List conversations
//	expertdesk conversations delete   Delete a conversation
//	expertdesk conversations rename   Rename a conversation
//	expertdesk session show           Show session state
//	expertdesk session reset          Discard the session token
//	expertdesk status                 Backend component health
//	expertdesk version                Version information
//
// Every command builds the same application wiring: config, logger,
// cache, gateway, session manager, store. The REPL additionally drives
// the delivery protocol and its poller.
package cli
