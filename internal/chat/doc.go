// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the message delivery protocol: optimistic
// local append, backend send, and reconciliation of whichever response
// shape the backend chooses.
//
// A send immediately appends the user's message with a temporary id and
// "sending" status so the conversation never looks unresponsive. The
// backend then answers in one of three shapes: a full authoritative
// message array (replaces the conversation's messages wholesale), a
// single assistant reply (merged with a chronological resort), or a
// "processing" acknowledgment that hands back a PendingDelivery for the
// caller to poll. A failed send leaves the message visible and marked
// failed; nothing composed is ever silently dropped.
//
// # Key Types
//
//   - Delivery: send and status-check operations
//   - Poller: rate-limited polling loop for asynchronous deliveries
//   - DeliveryFailedError: the backend reported the delivery errored
//
// # Usage
//
//	del := chat.NewDelivery(client, st, log)
//	res, err := del.Send(ctx, convID, "hola")
//	if res.Pending != nil {
//		state, err := chat.NewPoller(del, log).Poll(ctx, res.Pending)
//	}
package chat
