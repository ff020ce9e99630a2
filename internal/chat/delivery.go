// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/api"
	"github.com/jeranaias/expertdesk/internal/model"
	"github.com/jeranaias/expertdesk/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

// DeliveryFailedError is the backend reporting that an asynchronous
// delivery errored. The affected user message has been marked but not
// removed; retrying is the caller's decision.
type DeliveryFailedError struct {
	MessageID string
	Detail    string
}

func (e *DeliveryFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("delivery %s failed", e.MessageID)
	}
	return fmt.Sprintf("delivery %s failed: %s", e.MessageID, e.Detail)
}

// =============================================================================
// DELIVERY
// =============================================================================

// Result is the outcome of one send.
type Result struct {
	ConversationID int64

	// UserMessage is the optimistic message as appended locally. After a
	// wholesale replace its temporary id no longer exists in the
	// conversation; the server's array is the truth.
	UserMessage model.Message

	// Pending is non-nil when the backend accepted the message for
	// asynchronous processing. The conversation will not change again
	// until a status check resolves it.
	Pending *model.PendingDelivery
}

// Completed reports whether the turn finished synchronously.
func (r *Result) Completed() bool { return r.Pending == nil }

// Delivery runs the send and status-check protocol against one store.
type Delivery struct {
	client *api.Client
	store  *store.Store
	log    *zap.Logger
}

// NewDelivery creates a delivery protocol bound to the store.
func NewDelivery(client *api.Client, st *store.Store, log *zap.Logger) *Delivery {
	return &Delivery{client: client, store: st, log: log}
}

// Send appends the content optimistically and posts it to the service
// endpoint of the conversation. Any send failure marks the optimistic
// message failed; it is never deleted.
func (d *Delivery) Send(ctx context.Context, conversationID int64, content string) (*Result, error) {
	conv, ok := d.store.Conversation(conversationID)
	if !ok {
		return nil, store.ErrConversationNotFound
	}

	msg, err := d.store.AppendUserMessage(conversationID, content)
	if err != nil {
		return nil, err
	}

	out, err := d.client.SendMessage(ctx, conv.Service, api.SendMessageRequest{
		Message:              content,
		ConversationID:       conversationID,
		Language:             conv.Language,
		UseDeepseekReasoning: conv.RAGConfig.UseDeepseekReasoning,
	})
	if err != nil {
		if serr := d.store.SetMessageStatus(conversationID, msg.ID, model.StatusFailed); serr != nil {
			d.log.Warn("could not mark message failed", zap.Error(serr))
		}
		d.log.Warn("send failed",
			zap.Int64("conversation", conversationID), zap.Error(err))
		return nil, err
	}

	result := &Result{ConversationID: conversationID, UserMessage: msg}
	switch {
	case out.Pending != nil:
		// The message stays "sending" until a poll resolves it.
		result.Pending = out.Pending
		d.log.Debug("delivery accepted for async processing",
			zap.String("message_id", out.Pending.MessageID))

	case len(out.Messages) > 0:
		if err := d.store.ReplaceMessages(conversationID, out.Messages); err != nil {
			return nil, err
		}

	case out.Assistant != nil:
		if err := d.store.ResolveUserMessage(conversationID, msg.ID, model.MessageID{}); err != nil {
			return nil, err
		}
		if err := d.store.MergeAssistantMessage(conversationID, *out.Assistant); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CheckMessageStatus polls one pending delivery and applies the outcome.
// A completed status with a full array replaces the conversation's
// messages wholesale; a completed single reply is merged update-or-
// append; an error status marks the latest user message and surfaces a
// DeliveryFailedError. Cadence and retries are the caller's business.
func (d *Delivery) CheckMessageStatus(ctx context.Context, pending *model.PendingDelivery) (model.DeliveryState, error) {
	out, err := d.client.MessageStatus(ctx, pending.MessageID)
	if err != nil {
		return "", err
	}

	switch out.State {
	case model.DeliveryCompleted:
		if len(out.Messages) > 0 {
			if err := d.store.ReplaceMessages(pending.ConversationID, out.Messages); err != nil {
				return out.State, err
			}
		} else if out.Assistant != nil {
			if err := d.store.MergeAssistantMessage(pending.ConversationID, *out.Assistant); err != nil {
				return out.State, err
			}
		}
		d.log.Debug("delivery completed", zap.String("message_id", pending.MessageID))

	case model.DeliveryError:
		if err := d.store.MarkLatestUserMessageError(pending.ConversationID); err != nil {
			d.log.Warn("could not mark message errored", zap.Error(err))
		}
		return out.State, &DeliveryFailedError{
			MessageID: pending.MessageID,
			Detail:    out.Detail,
		}
	}
	return out.State, nil
}
