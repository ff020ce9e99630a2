// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/expertdesk/internal/model"
)

// Default polling cadence and cap.
const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultMaxPolls     = 40
)

// ErrPollLimit means the delivery never reached a terminal state within
// the poll budget. The pending delivery is still valid; the caller may
// resume polling later.
var ErrPollLimit = errors.New("delivery still processing after poll limit")

// =============================================================================
// POLLER
// =============================================================================

// Poller drives CheckMessageStatus at a bounded cadence until the
// delivery reaches a terminal state.
type Poller struct {
	delivery *Delivery
	limiter  *rate.Limiter
	maxPolls int
	log      *zap.Logger
}

// NewPoller creates a poller with the default cadence.
func NewPoller(delivery *Delivery, log *zap.Logger) *Poller {
	return &Poller{
		delivery: delivery,
		limiter:  rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
		maxPolls: DefaultMaxPolls,
		log:      log,
	}
}

// WithInterval sets the minimum spacing between polls.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	p.limiter = rate.NewLimiter(rate.Every(d), 1)
	return p
}

// WithMaxPolls caps the number of status checks per Poll call.
func (p *Poller) WithMaxPolls(n int) *Poller {
	p.maxPolls = n
	return p
}

// Poll repeatedly checks the pending delivery until it completes, errors,
// the poll budget runs out, or the context is done. The terminal state
// is returned; a DeliveryFailedError accompanies the error state.
func (p *Poller) Poll(ctx context.Context, pending *model.PendingDelivery) (model.DeliveryState, error) {
	for i := 0; i < p.maxPolls; i++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}

		state, err := p.delivery.CheckMessageStatus(ctx, pending)
		if err != nil {
			return state, err
		}
		if state.Terminal() {
			return state, nil
		}
		p.log.Debug("delivery still processing",
			zap.String("message_id", pending.MessageID), zap.Int("poll", i+1))
	}
	return model.DeliveryProcessing, ErrPollLimit
}
