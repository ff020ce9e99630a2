// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MESSAGE IDENTITY
// =============================================================================

// TempIDPrefix marks client-generated message ids that have not yet been
// acknowledged by the backend.
const TempIDPrefix = "temp-"

// MessageID is either a backend-assigned numeric id or a client-side
// temporary string id. Exactly one of the two forms is populated.
type MessageID struct {
	Num  int64  // valid when Temp is empty
	Temp string // "temp-..." until the backend acknowledges the message
}

// NumericID wraps a backend-assigned id.
func NumericID(n int64) MessageID {
	return MessageID{Num: n}
}

// NewTempID generates a fresh temporary id for an optimistic message.
func NewTempID() MessageID {
	return MessageID{Temp: TempIDPrefix + uuid.NewString()}
}

// IsTemp reports whether the id is a client-side temporary id.
func (id MessageID) IsTemp() bool { return id.Temp != "" }

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool { return id.Temp == "" && id.Num == 0 }

// String renders the id for logging and comparison.
func (id MessageID) String() string {
	if id.IsTemp() {
		return id.Temp
	}
	return strconv.FormatInt(id.Num, 10)
}

// MarshalJSON emits a number for backend ids and a string for temp ids.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id.IsTemp() {
		return json.Marshal(id.Temp)
	}
	return json.Marshal(id.Num)
}

// UnmarshalJSON accepts both the numeric and string wire forms. Numeric
// strings are treated as backend ids.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = MessageID{Num: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message id is neither number nor string: %s", data)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && !strings.HasPrefix(s, TempIDPrefix) {
		*id = MessageID{Num: n}
		return nil
	}
	*id = MessageID{Temp: s}
	return nil
}

// =============================================================================
// MESSAGE
// =============================================================================

// Role identifies who authored a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryStatus is the client-local delivery state of a message.
type DeliveryStatus string

// Delivery states for locally-tracked messages.
const (
	StatusSending  DeliveryStatus = "sending"
	StatusSent     DeliveryStatus = "sent"
	StatusReceived DeliveryStatus = "received"
	StatusFailed   DeliveryStatus = "failed"
	StatusError    DeliveryStatus = "error"
)

// ContextSnippet is a retrieval source snippet attached to an assistant
// message by the RAG pipeline.
type ContextSnippet struct {
	Source  string  `json:"source"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Message is a single chat message. ConversationID is always populated,
// even when the source payload omitted it.
type Message struct {
	ID             MessageID        `json:"id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	ConversationID int64            `json:"conversation_id"`
	CreatedAt      time.Time        `json:"created_at"`
	ContextData    []ContextSnippet `json:"context_data,omitempty"`
	LocalStatus    DeliveryStatus   `json:"local_status,omitempty"`
}

// NewUserMessage creates an optimistic user message with a temporary id
// and sending status.
func NewUserMessage(conversationID int64, content string, now time.Time) Message {
	return Message{
		ID:             NewTempID(),
		Role:           RoleUser,
		Content:        content,
		ConversationID: conversationID,
		CreatedAt:      now,
		LocalStatus:    StatusSending,
	}
}

// NewWelcomeMessage creates the static assistant greeting seeded at
// conversation creation. It is the only assistant message ever fabricated
// client-side.
func NewWelcomeMessage(conversationID int64, svc Service, now time.Time) Message {
	return Message{
		ID:             NewTempID(),
		Role:           RoleAssistant,
		Content:        svc.WelcomeMessage,
		ConversationID: conversationID,
		CreatedAt:      now,
		LocalStatus:    StatusReceived,
	}
}

// =============================================================================
// ORDERING
// =============================================================================

// NearSimultaneousWindow is the timestamp distance under which two messages
// are considered concurrent and ordered by numeric id instead.
const NearSimultaneousWindow = 100 * time.Millisecond

// SortChronological orders messages by timestamp, breaking near-simultaneous
// ties (within NearSimultaneousWindow) by numeric id. Messages without a
// timestamp sort last. The sort is stable.
func SortChronological(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return messageLess(msgs[i], msgs[j])
	})
}

func messageLess(a, b Message) bool {
	az, bz := a.CreatedAt.IsZero(), b.CreatedAt.IsZero()
	if az || bz {
		// No-timestamp messages sort after everything else.
		return bz && !az
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	if d <= NearSimultaneousWindow && !a.ID.IsTemp() && !b.ID.IsTemp() {
		return a.ID.Num < b.ID.Num
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
