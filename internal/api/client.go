// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/model"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is the typed surface over the backend REST API. Every method
// decodes and normalizes its payload exactly once; unexpected shapes
// surface immediately as ValidationError without retry.
type Client struct {
	gw      *Gateway
	baseURL string
	log     *zap.Logger
	now     func() time.Time
}

// NewClient creates a typed client over the gateway.
func NewClient(gw *Gateway, baseURL string, log *zap.Logger) *Client {
	return &Client{
		gw:      gw,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
		now:     time.Now,
	}
}

// Gateway exposes the underlying gateway for wiring the token provider.
func (c *Client) Gateway() *Gateway { return c.gw }

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// CreateSession asks the backend for a fresh session token.
// Accepts both the `token` and `session_id` response fields.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.gw.Do(ctx, Request{
		Method:   http.MethodPost,
		URL:      c.url("/create-session/"),
		SkipAuth: true,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", statusError(resp, c.url("/create-session/"))
	}

	var payload struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", &ValidationError{Reason: "create-session response", Err: err}
	}
	token := payload.Token
	if token == "" {
		token = payload.SessionID
	}
	if token == "" {
		return "", &ValidationError{Reason: "create-session response carries no token"}
	}
	return token, nil
}

// SessionCheck is the normalized result of the session-check endpoint.
// Definitive is false when the backend's answer was indeterminate: the
// caller must keep using its current token rather than discard it.
type SessionCheck struct {
	Valid      bool
	Definitive bool
	UserID     string
	Created    time.Time
}

// CheckSession validates a token against the backend. A token is valid
// only when the response explicitly asserts validity, flat or nested under
// a session object. 401/403 invalidate definitively; every other outcome
// is indeterminate.
func (c *Client) CheckSession(ctx context.Context, token string) (SessionCheck, error) {
	header := http.Header{}
	header.Set(SessionHeader, token)

	resp, err := c.gw.Do(ctx, Request{
		Method:   http.MethodPost,
		URL:      c.url("/check-session/"),
		Body:     map[string]string{"token": token},
		SkipAuth: true,
		Header:   header,
	})
	if err != nil {
		return SessionCheck{}, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return SessionCheck{Valid: false, Definitive: true}, nil
	case !resp.OK():
		// Transient backend trouble must not churn the session.
		return SessionCheck{}, nil
	}

	var payload struct {
		Valid   *bool `json:"valid"`
		IsValid *bool `json:"isValid"`
		Session *struct {
			Valid   *bool  `json:"valid"`
			IsValid *bool  `json:"isValid"`
			UserID  string `json:"userId"`
			Created string `json:"created"`
		} `json:"session"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		// Unexpected shape: indeterminate, keep the token.
		return SessionCheck{}, nil
	}

	check := SessionCheck{}
	verdicts := []*bool{payload.Valid, payload.IsValid}
	if payload.Session != nil {
		verdicts = append(verdicts, payload.Session.Valid, payload.Session.IsValid)
		check.UserID = payload.Session.UserID
		check.Created = parseTime(payload.Session.Created)
	}
	for _, v := range verdicts {
		if v == nil {
			continue
		}
		check.Definitive = true
		if *v {
			check.Valid = true
			break
		}
	}
	return check, nil
}

// =============================================================================
// CONVERSATION ENDPOINTS
// =============================================================================

// ListConversations fetches every conversation for the current session.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	resp, err := c.gw.Do(ctx, Request{
		Method: http.MethodGet,
		URL:    c.url("/conversations/"),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(resp, c.url("/conversations/"))
	}
	return decodeConversationList(resp.Body, c.now())
}

// CreateConversationRequest is the conversation-creation payload.
type CreateConversationRequest struct {
	Service              model.ServiceID `json:"service"`
	Title                string          `json:"title,omitempty"`
	Language             string          `json:"language,omitempty"`
	UserID               string          `json:"userId,omitempty"`
	Domain               string          `json:"domain,omitempty"`
	UseRAG               bool            `json:"use_rag"`
	UseDeepseekReasoning bool            `json:"use_deepseek_reasoning,omitempty"`
}

// CreateConversation creates a conversation. The returned conversation is
// normalized but its id is not validated here; the store enforces the
// positive-integer invariant.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (model.Conversation, error) {
	resp, err := c.gw.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    c.url("/conversations/"),
		Body:   req,
	})
	if err != nil {
		return model.Conversation{}, err
	}
	if !resp.OK() {
		return model.Conversation{}, statusError(resp, c.url("/conversations/"))
	}

	var payload struct {
		Success        *bool            `json:"success"`
		ConversationID json.Number      `json:"conversation_id"`
		Conversation   *rawConversation `json:"conversation"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return model.Conversation{}, &ValidationError{Reason: "create-conversation response", Err: err}
	}

	var conv model.Conversation
	if payload.Conversation != nil {
		conv = payload.Conversation.normalize(c.now())
	} else {
		conv = rawConversation{}.normalize(c.now())
		conv.Service = req.Service
	}
	if conv.ID == 0 {
		if id, err := payload.ConversationID.Int64(); err == nil {
			conv.ID = id
		}
	}
	return conv, nil
}

// DeleteConversation removes a conversation on the backend.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	url := c.url(fmt.Sprintf("/conversations/%d", id))
	resp, err := c.gw.Do(ctx, Request{Method: http.MethodDelete, URL: url})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError(resp, url)
	}
	return nil
}

// =============================================================================
// CHAT ENDPOINTS
// =============================================================================

// SendMessageRequest is the chat payload posted to the service endpoint.
type SendMessageRequest struct {
	Message              string `json:"message"`
	ConversationID       int64  `json:"conversation_id"`
	UserID               string `json:"user_id,omitempty"`
	Language             string `json:"language,omitempty"`
	UseDeepseekReasoning bool   `json:"use_deepseek_reasoning,omitempty"`
}

// SendOutcome is the normalized union of the three send response shapes:
// asynchronous processing, full authoritative message array, or a single
// assistant reply.
type SendOutcome struct {
	Pending   *model.PendingDelivery
	Messages  []model.Message
	Assistant *model.Message
}

// SendMessage posts a chat message to the endpoint selected by the
// service and normalizes whichever response shape comes back.
func (c *Client) SendMessage(ctx context.Context, service model.ServiceID, req SendMessageRequest) (SendOutcome, error) {
	url := c.url(service.Endpoint())
	resp, err := c.gw.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: req})
	if err != nil {
		return SendOutcome{}, err
	}
	if !resp.OK() {
		return SendOutcome{}, statusError(resp, url)
	}

	var payload struct {
		Status              string       `json:"status"`
		MessageID           string       `json:"message_id"`
		CheckStatusEndpoint string       `json:"check_status_endpoint"`
		Messages            []rawMessage `json:"messages"`
		AssistantMessage    flexMessage  `json:"assistant_message"`
		Response            flexMessage  `json:"response"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return SendOutcome{}, &ValidationError{Reason: "send-message response", Err: err}
	}

	if payload.Status == string(model.DeliveryProcessing) && payload.MessageID != "" {
		return SendOutcome{Pending: &model.PendingDelivery{
			MessageID:      payload.MessageID,
			Status:         model.DeliveryProcessing,
			StatusEndpoint: payload.CheckStatusEndpoint,
			ConversationID: req.ConversationID,
		}}, nil
	}

	if len(payload.Messages) > 0 {
		msgs := make([]model.Message, 0, len(payload.Messages))
		for _, m := range payload.Messages {
			msgs = append(msgs, m.normalize(req.ConversationID))
		}
		return SendOutcome{Messages: msgs}, nil
	}

	assistant := payload.AssistantMessage.msg
	if assistant == nil {
		assistant = payload.Response.msg
	}
	if assistant != nil {
		if assistant.ConversationID == 0 {
			assistant.ConversationID = req.ConversationID
		}
		return SendOutcome{Assistant: assistant}, nil
	}

	return SendOutcome{}, &ValidationError{Reason: "send-message response carries no reply"}
}

// StatusOutcome is the normalized result of the message-status endpoint.
type StatusOutcome struct {
	State     model.DeliveryState
	Messages  []model.Message
	Assistant *model.Message
	Detail    string
}

// MessageStatus polls the status of an asynchronous message.
func (c *Client) MessageStatus(ctx context.Context, messageID string) (StatusOutcome, error) {
	url := c.url("/message-status/" + messageID + "/")
	resp, err := c.gw.Do(ctx, Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return StatusOutcome{}, err
	}
	if !resp.OK() {
		return StatusOutcome{}, statusError(resp, url)
	}

	var payload struct {
		Status           string       `json:"status"`
		Messages         []rawMessage `json:"messages"`
		Message          flexMessage  `json:"message"`
		AssistantMessage flexMessage  `json:"assistant_message"`
		Response         flexMessage  `json:"response"`
		Error            string       `json:"error"`
		Detail           string       `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return StatusOutcome{}, &ValidationError{Reason: "message-status response", Err: err}
	}
	if payload.Status == "" {
		return StatusOutcome{}, &ValidationError{Reason: "message-status response carries no status"}
	}

	out := StatusOutcome{State: model.DeliveryState(payload.Status)}

	if len(payload.Messages) > 0 {
		out.Messages = make([]model.Message, 0, len(payload.Messages))
		for _, m := range payload.Messages {
			out.Messages = append(out.Messages, m.normalize(0))
		}
	}
	for _, flex := range []flexMessage{payload.Message, payload.AssistantMessage, payload.Response} {
		if flex.msg != nil {
			out.Assistant = flex.msg
			break
		}
	}
	out.Detail = payload.Error
	if out.Detail == "" {
		out.Detail = payload.Detail
	}
	return out, nil
}

// =============================================================================
// SYSTEM STATUS
// =============================================================================

// SystemStatus fetches component health. Read-only convenience; not part
// of the delivery protocol.
func (c *Client) SystemStatus(ctx context.Context) (map[string]any, error) {
	url := c.url("/system-status/")
	resp, err := c.gw.Do(ctx, Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(resp, url)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &ValidationError{Reason: "system-status response", Err: err}
	}
	return payload, nil
}
