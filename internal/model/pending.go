// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// ASYNCHRONOUS DELIVERY
// =============================================================================

// DeliveryState is the backend-reported processing state of an
// asynchronous message.
type DeliveryState string

// Asynchronous delivery states.
const (
	DeliveryProcessing DeliveryState = "processing"
	DeliveryCompleted  DeliveryState = "completed"
	DeliveryError      DeliveryState = "error"
)

// Terminal reports whether the state ends the polling cycle.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryCompleted || s == DeliveryError
}

// PendingDelivery tracks an in-flight asynchronous message awaiting backend
// completion. It is created when a send call returns "processing" and
// discarded after the poll result has been reconciled.
type PendingDelivery struct {
	MessageID      string        `json:"message_id"`
	Status         DeliveryState `json:"status"`
	StatusEndpoint string        `json:"status_endpoint"`
	ConversationID int64         `json:"conversation_id"`
}
