// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"a":1}`), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	// Overwrite replaces the previous content completely.
	require.NoError(t, AtomicWriteFile(path, []byte(`{"b":2}`), 0600))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestManualClock_AfterFunc(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))

	fired := 0
	clock.AfterFunc(100*time.Millisecond, func() { fired++ })

	clock.Advance(50 * time.Millisecond)
	require.Equal(t, 0, fired)

	clock.Advance(50 * time.Millisecond)
	require.Equal(t, 1, fired)

	// Firing is one-shot.
	clock.Advance(time.Second)
	require.Equal(t, 1, fired)
}

func TestManualClock_Stop(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())

	clock.Advance(2 * time.Second)
	require.False(t, fired)
	require.False(t, timer.Stop())
}

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))

	var order []int
	clock.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })
	clock.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })

	clock.Advance(time.Second)
	require.Equal(t, []int{1, 2}, order)
}
