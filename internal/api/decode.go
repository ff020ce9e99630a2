// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/expertdesk/internal/model"
)

// This file is the normalization boundary: every alternate field name the
// backend emits (lastUpdated vs last_updated, valid vs isValid, string vs
// object assistant replies) is resolved here, once, into the canonical
// shapes of the model package. Ambiguity never travels past this file.

// =============================================================================
// RAW WIRE SHAPES
// =============================================================================

type rawMessage struct {
	ID             model.MessageID        `json:"id"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	ConversationID int64                  `json:"conversation_id"`
	CreatedAt      string                 `json:"created_at"`
	CreatedAtAlt   string                 `json:"createdAt"`
	Timestamp      string                 `json:"timestamp"`
	ContextData    []model.ContextSnippet `json:"context_data"`
	Context        []model.ContextSnippet `json:"context"`
}

func (r rawMessage) normalize(fallbackConvID int64) model.Message {
	msg := model.Message{
		ID:             r.ID,
		Role:           model.Role(r.Role),
		Content:        r.Content,
		ConversationID: r.ConversationID,
		CreatedAt:      parseTime(r.CreatedAt, r.CreatedAtAlt, r.Timestamp),
		ContextData:    r.ContextData,
		LocalStatus:    model.StatusReceived,
	}
	if msg.ContextData == nil {
		msg.ContextData = r.Context
	}
	// Every message belongs to exactly one conversation, even when the
	// payload omits the id.
	if msg.ConversationID == 0 {
		msg.ConversationID = fallbackConvID
	}
	return msg
}

type rawConversation struct {
	ID          json.Number  `json:"id"`
	Title       string       `json:"title"`
	Service     string       `json:"service"`
	Messages    []rawMessage `json:"messages"`
	LastUpdated string       `json:"lastUpdated"`
	LastUpdAlt  string       `json:"last_updated"`
	Language    string       `json:"language"`
}

func (r rawConversation) normalize(now time.Time) model.Conversation {
	id, _ := r.ID.Int64()

	conv := model.Conversation{
		ID:       id,
		Title:    r.Title,
		Service:  model.ServiceID(r.Service),
		Language: r.Language,
	}
	if conv.Title == "" {
		conv.Title = model.DefaultTitle
	}
	if conv.Service == "" {
		conv.Service = model.DefaultService
	}

	// Timestamp fallback chain: lastUpdated → last_updated → now.
	conv.LastUpdated = parseTime(r.LastUpdated, r.LastUpdAlt)
	if conv.LastUpdated.IsZero() {
		conv.LastUpdated = now
	}

	conv.Messages = make([]model.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		conv.Messages = append(conv.Messages, m.normalize(id))
	}
	return conv
}

// parseTime returns the first candidate that parses, zero otherwise.
func parseTime(candidates ...string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// =============================================================================
// PAYLOAD FAMILIES
// =============================================================================

// decodeConversationList accepts both the enveloped and the bare-array
// conversation list shapes. An envelope is authoritative once it decodes:
// a missing or null conversations field is a legitimate empty list, not a
// reason to reinterpret the object as a bare array.
func decodeConversationList(body []byte, now time.Time) ([]model.Conversation, error) {
	var envelope struct {
		Success       *bool           `json:"success"`
		Conversations json.RawMessage `json:"conversations"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil &&
		(envelope.Success != nil || envelope.Conversations != nil) {
		if len(envelope.Conversations) == 0 || string(envelope.Conversations) == "null" {
			return []model.Conversation{}, nil
		}
		var raw []rawConversation
		if err := json.Unmarshal(envelope.Conversations, &raw); err != nil {
			return nil, &ValidationError{Reason: "conversation list", Err: err}
		}
		return normalizeConversations(raw, now), nil
	}

	var bare []rawConversation
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, &ValidationError{Reason: "conversation list", Err: err}
	}
	return normalizeConversations(bare, now), nil
}

func normalizeConversations(raw []rawConversation, now time.Time) []model.Conversation {
	out := make([]model.Conversation, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.normalize(now))
	}
	return out
}

// flexMessage accepts an assistant reply that arrives either as a bare
// string or as a full message object.
type flexMessage struct {
	msg *model.Message
}

func (f *flexMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			return nil
		}
		f.msg = &model.Message{
			Role:        model.RoleAssistant,
			Content:     s,
			LocalStatus: model.StatusReceived,
		}
		return nil
	}
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m := raw.normalize(0)
	if m.Role == "" {
		m.Role = model.RoleAssistant
	}
	f.msg = &m
	return nil
}
