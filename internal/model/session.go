// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// SessionToken is the opaque session credential issued by the backend.
// The value is never interpreted client-side; it is carried as-is in the
// session header of every authenticated request.
type SessionToken struct {
	Value         string    `json:"value"`
	UserID        string    `json:"user_id,omitempty"`
	InitializedAt time.Time `json:"initialized_at"`
}

// IsZero reports whether no token is held.
func (t SessionToken) IsZero() bool { return t.Value == "" }
