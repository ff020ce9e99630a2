// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"sync"
	"time"

	"github.com/jeranaias/expertdesk/internal/util"
)

// DefaultSnapshotWindow is how long a snapshot write waits for further
// triggers before flushing.
const DefaultSnapshotWindow = 100 * time.Millisecond

// =============================================================================
// DEBOUNCER
// =============================================================================

// Debouncer coalesces bursts of triggers into a single callback. The
// flush deadline is anchored at the first trigger of a burst, so a
// steady stream of triggers cannot starve the flush indefinitely.
type Debouncer struct {
	clock  util.Clock
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   util.Timer
	pending bool
	stopped bool
}

// NewDebouncer creates a debouncer that invokes fn at most once per
// window of triggers.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		clock:  util.SystemClock{},
		window: window,
		fn:     fn,
	}
}

// WithClock substitutes the time source. For tests.
func (d *Debouncer) WithClock(clock util.Clock) *Debouncer {
	d.clock = clock
	return d
}

// Trigger requests a flush. Triggers arriving while one is already
// scheduled are absorbed into it.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.pending {
		return
	}
	d.pending = true
	d.timer = d.clock.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Flush runs any pending callback immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending flush and rejects further triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
