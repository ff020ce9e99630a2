// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// TitleMaxLen is the truncation length for auto-generated titles derived
// from the first user message.
const TitleMaxLen = 30

// DefaultTitle is assigned when the backend omits a conversation title.
const DefaultTitle = "Nueva conversación"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// RAGConfig holds client-derived retrieval settings for a conversation.
// It is never server-authoritative.
type RAGConfig struct {
	UseRAG               bool   `json:"use_rag"`
	Domain               string `json:"domain,omitempty"`
	UseDeepseekReasoning bool   `json:"use_deepseek_reasoning,omitempty"`
}

// Conversation is one chat thread. ID is always a positive integer once
// the conversation has been persisted by the backend.
type Conversation struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Service     ServiceID  `json:"service"`
	Messages    []Message  `json:"messages"`
	LastUpdated time.Time  `json:"last_updated"`
	Language    string     `json:"language,omitempty"`
	RAGConfig   *RAGConfig `json:"rag_config,omitempty"`
}

// IsEmpty reports whether the conversation has no messages. Seeded welcome
// messages do not count: a conversation whose only message is the static
// greeting is still reusable as "empty".
func (c *Conversation) IsEmpty() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser || !m.ID.IsTemp() {
			return false
		}
	}
	return true
}

// Touch bumps the last-updated timestamp.
func (c *Conversation) Touch(now time.Time) {
	c.LastUpdated = now
}

// AppendMessage adds a message, stamping it with the conversation id.
func (c *Conversation) AppendMessage(msg Message) {
	msg.ConversationID = c.ID
	c.Messages = append(c.Messages, msg)
}

// ReplaceMessages swaps the whole message sequence for the server's
// authoritative array. Every entry is stamped with the conversation id and
// any locally-tagged temporary messages are discarded with the old slice.
func (c *Conversation) ReplaceMessages(msgs []Message) {
	replaced := make([]Message, len(msgs))
	for i, m := range msgs {
		m.ConversationID = c.ID
		if m.LocalStatus == "" {
			m.LocalStatus = StatusReceived
		}
		replaced[i] = m
	}
	c.Messages = replaced
}

// MessageByID returns a pointer into the message slice, or nil.
func (c *Conversation) MessageByID(id MessageID) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return &c.Messages[i]
		}
	}
	return nil
}

// UserMessageCount returns how many user messages the conversation holds.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// AutoTitle derives a title from the first user message: the content
// truncated to TitleMaxLen runes with a trailing ellipsis.
func AutoTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxLen {
		return content
	}
	return string(runes[:TitleMaxLen]) + "..."
}

// Clone returns a deep copy safe to hand to callers while the store keeps
// mutating the original.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	if c.RAGConfig != nil {
		cfg := *c.RAGConfig
		out.RAGConfig = &cfg
	}
	return &out
}
