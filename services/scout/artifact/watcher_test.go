// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

func newTestWatcher(t *testing.T, store *Store, root string) *Watcher {
	t.Helper()
	opts := DefaultWatcherOptions()
	opts.DebounceWindow = 50 * time.Millisecond

	w, err := NewWatcher(store, root, &opts)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

// waitForMiss polls until the query stops hitting the store.
func waitForMiss(t *testing.T, store *Store, query datatypes.Query) MissReason {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, reason := store.Lookup(context.Background(), query); reason != MissNone {
			return reason
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("store still serves the bundle after a source change")
	return MissNone
}

func TestDefaultWatcherOptions(t *testing.T) {
	opts := DefaultWatcherOptions()
	assert.Equal(t, 200*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 1000, opts.BufferSize)
}

func TestWatcher_StartStop(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)

	w := newTestWatcher(t, store, root)
	assert.False(t, w.IsWatching())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsWatching())

	// Second Start is a no-op.
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	assert.False(t, w.IsWatching())

	// Stop is idempotent.
	w.Stop()
}

func TestWatcher_InvalidatesOnSourceChange(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))

	w := newTestWatcher(t, store, root)
	require.NoError(t, w.Start(ctx))

	err := os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644)
	require.NoError(t, err)

	reason := waitForMiss(t, store, query)
	assert.Equal(t, MissNotFound, reason)
}

func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	w := newTestWatcher(t, store, root)
	require.NoError(t, w.Start(ctx))

	// Create the directory first, then a source file inside it once the
	// watcher has had a chance to register the new directory.
	sub := filepath.Join(root, "internal")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))

	err := os.WriteFile(filepath.Join(sub, "util.go"), []byte("package internal\n"), 0o644)
	require.NoError(t, err)

	waitForMiss(t, store, query)
}

func TestWatcher_IgnoresNonSourceFiles(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))

	w := newTestWatcher(t, store, root)
	require.NoError(t, w.Start(ctx))

	err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# proj\n"), 0o644)
	require.NoError(t, err)

	// Give the watcher several debounce windows to (incorrectly) react.
	time.Sleep(300 * time.Millisecond)

	_, reason := store.Lookup(ctx, query)
	assert.Equal(t, MissNone, reason)
}
