// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testGateway(), server.URL, zap.NewNop())
}

// =============================================================================
// SESSION ENDPOINT TESTS
// =============================================================================

func TestClient_CreateSessionAcceptsBothTokenFields(t *testing.T) {
	for _, body := range []string{`{"token":"abc"}`, `{"session_id":"abc"}`} {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/create-session/", r.URL.Path)
			w.Write([]byte(body))
		})
		token, err := client.CreateSession(context.Background())
		require.NoError(t, err)
		require.Equal(t, "abc", token)
	}
}

func TestClient_CreateSessionWithoutTokenIsValidationError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})
	_, err := client.CreateSession(context.Background())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestClient_CheckSessionShapes(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		valid      bool
		definitive bool
	}{
		{"flat valid", 200, `{"valid":true}`, true, true},
		{"flat isValid", 200, `{"isValid":true}`, true, true},
		{"nested valid", 200, `{"session":{"valid":true,"userId":"u1"}}`, true, true},
		{"nested isValid", 200, `{"session":{"isValid":true}}`, true, true},
		{"explicit invalid", 200, `{"valid":false}`, false, true},
		{"unauthorized", 401, `{}`, false, true},
		{"forbidden", 403, `{}`, false, true},
		{"server error is indeterminate", 500, `{}`, false, false},
		{"unknown shape is indeterminate", 200, `{"hello":"world"}`, false, false},
		{"garbage is indeterminate", 200, `not json`, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "tok", r.Header.Get(SessionHeader))
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			check, err := client.CheckSession(context.Background(), "tok")
			require.NoError(t, err)
			require.Equal(t, tc.valid, check.Valid)
			require.Equal(t, tc.definitive, check.Definitive)
		})
	}
}

func TestClient_CheckSessionCarriesUserID(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session":{"valid":true,"userId":"u-9","created":"2025-02-01T10:00:00Z"}}`))
	})
	check, err := client.CheckSession(context.Background(), "tok")
	require.NoError(t, err)
	require.True(t, check.Valid)
	require.Equal(t, "u-9", check.UserID)
	require.Equal(t, 2025, check.Created.Year())
}

// =============================================================================
// CONVERSATION ENDPOINT TESTS
// =============================================================================

func TestClient_ListConversationsEnvelopeAndBareArray(t *testing.T) {
	bodies := []string{
		`{"success":true,"conversations":[{"id":1,"title":"t","service":"llm_expert","messages":[],"lastUpdated":"2025-01-02T03:04:05Z"}]}`,
		`[{"id":1,"title":"t","service":"llm_expert","messages":[],"last_updated":"2025-01-02T03:04:05Z"}]`,
	}
	for _, body := range bodies {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		convs, err := client.ListConversations(context.Background())
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.Equal(t, int64(1), convs[0].ID)
		require.Equal(t, model.ServiceLLMExpert, convs[0].Service)
		require.Equal(t, 2025, convs[0].LastUpdated.Year())
	}
}

func TestClient_ListConversationsNormalizesMissingFields(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversations":[{"id":7,"messages":[{"id":3,"role":"user","content":"hola"}]}]}`))
	})
	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	conv := convs[0]
	require.Equal(t, "Nueva conversación", conv.Title)
	require.Equal(t, model.DefaultService, conv.Service)
	require.False(t, conv.LastUpdated.IsZero(), "missing timestamps fall back to now")

	// conversationId is stamped even when the payload omits it.
	require.Equal(t, int64(7), conv.Messages[0].ConversationID)
	require.Equal(t, model.StatusReceived, conv.Messages[0].LocalStatus)
}

func TestClient_ListConversationsEmpty(t *testing.T) {
	// A null or absent conversations field inside a decoded envelope is
	// an empty list, never a reason to reinterpret the object as a bare
	// array.
	bodies := []string{
		`{"success":true,"conversations":[]}`,
		`{"success":true,"conversations":null}`,
		`{"success":true}`,
		`{"conversations":null}`,
	}
	for _, body := range bodies {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		convs, err := client.ListConversations(context.Background())
		require.NoError(t, err, "body %s", body)
		require.Empty(t, convs, "body %s", body)
	}
}

func TestClient_CreateConversation(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"conversation_id":12,"conversation":{"id":12,"title":"x","service":"security_expert"}}`))
	})
	conv, err := client.CreateConversation(context.Background(), CreateConversationRequest{
		Service: model.ServiceSecurityExpert,
	})
	require.NoError(t, err)
	require.Equal(t, int64(12), conv.ID)
	require.Equal(t, model.ServiceSecurityExpert, conv.Service)
}

func TestClient_CreateConversationIDOnly(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"conversation_id":33}`))
	})
	conv, err := client.CreateConversation(context.Background(), CreateConversationRequest{
		Service: model.ServiceUnifiedAgent,
	})
	require.NoError(t, err)
	require.Equal(t, int64(33), conv.ID)
	require.Equal(t, model.ServiceUnifiedAgent, conv.Service)
}

func TestClient_DeleteConversationNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	err := client.DeleteConversation(context.Background(), 99)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

// =============================================================================
// CHAT ENDPOINT TESTS
// =============================================================================

func TestClient_SendMessageProcessing(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/security-expert/", r.URL.Path)
		w.Write([]byte(`{"status":"processing","message_id":"m-9","check_status_endpoint":"/message-status/m-9/"}`))
	})
	out, err := client.SendMessage(context.Background(), model.ServiceSecurityExpert, SendMessageRequest{
		Message:        "hola",
		ConversationID: 42,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Pending)
	require.Equal(t, "m-9", out.Pending.MessageID)
	require.Equal(t, model.DeliveryProcessing, out.Pending.Status)
	require.Equal(t, int64(42), out.Pending.ConversationID)
}

func TestClient_SendMessageFullArray(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[{"id":1,"role":"user","content":"hi"},{"id":2,"role":"assistant","content":"hello"}]}`))
	})
	out, err := client.SendMessage(context.Background(), model.ServiceRAGConversation, SendMessageRequest{
		Message:        "hi",
		ConversationID: 42,
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	require.Equal(t, int64(42), out.Messages[0].ConversationID)
	require.Nil(t, out.Pending)
	require.Nil(t, out.Assistant)
}

func TestClient_SendMessageAssistantString(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"assistant_message":"claro que sí"}`))
	})
	out, err := client.SendMessage(context.Background(), model.ServiceLLMExpert, SendMessageRequest{
		Message:        "pregunta",
		ConversationID: 7,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Assistant)
	require.Equal(t, "claro que sí", out.Assistant.Content)
	require.Equal(t, model.RoleAssistant, out.Assistant.Role)
	require.Equal(t, int64(7), out.Assistant.ConversationID)
}

func TestClient_SendMessageAssistantObject(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"id":5,"content":"respuesta","created_at":"2025-01-01T00:00:00Z"}}`))
	})
	out, err := client.SendMessage(context.Background(), model.ServiceLLMExpert, SendMessageRequest{
		Message:        "pregunta",
		ConversationID: 7,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Assistant)
	require.Equal(t, int64(5), out.Assistant.ID.Num)
	require.Equal(t, model.RoleAssistant, out.Assistant.Role)
}

func TestClient_SendMessageNoReplyIsValidationError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})
	_, err := client.SendMessage(context.Background(), model.ServiceLLMExpert, SendMessageRequest{Message: "x"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestClient_MessageStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message-status/m-9/", r.URL.Path)
		w.Write([]byte(`{"status":"completed","messages":[{"id":1,"role":"user","content":"hi"},{"id":2,"role":"assistant","content":"hello"}]}`))
	})
	out, err := client.MessageStatus(context.Background(), "m-9")
	require.NoError(t, err)
	require.Equal(t, model.DeliveryCompleted, out.State)
	require.Len(t, out.Messages, 2)
}

func TestClient_MessageStatusError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","error":"pipeline exploded"}`))
	})
	out, err := client.MessageStatus(context.Background(), "m-9")
	require.NoError(t, err)
	require.Equal(t, model.DeliveryError, out.State)
	require.Equal(t, "pipeline exploded", out.Detail)
}

func TestClient_MessageStatusWithoutStatusIsValidationError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[]}`))
	})
	_, err := client.MessageStatus(context.Background(), "m-9")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

// =============================================================================
// SYSTEM STATUS TESTS
// =============================================================================

func TestClient_SystemStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/system-status/", r.URL.Path)
		w.Write([]byte(`{"status":"ok","components":{"retrieval":"up"}}`))
	})
	status, err := client.SystemStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", status["status"])
}

func TestClient_SystemStatusPropagatesServerError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.SystemStatus(context.Background())
	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Status)
}
