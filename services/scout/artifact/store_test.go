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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// writeProject creates a minimal Go project tree for hashing.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/proj\n\ngo 1.25\n"), 0o644)
	require.NoError(t, err)
	return dir
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	store, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func inventoryQuery(root string) datatypes.Query {
	return datatypes.Query{Kind: datatypes.KindInventory, Root: root}
}

func inventoryBundle(root string) *datatypes.DataBundle {
	return &datatypes.DataBundle{
		Kind: datatypes.KindInventory,
		Root: root,
		Tier: datatypes.TierLive,
		Inventory: &datatypes.InventoryData{
			Root:       root,
			Files:      []datatypes.FileRecord{{Path: "main.go", Package: "main", Lines: 1}},
			TotalLines: 1,
			Packages:   []string{"main"},
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{InMemory: false, Path: ""})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestConfigFunctions(t *testing.T) {
	t.Run("DefaultConfig is durable and verified", func(t *testing.T) {
		cfg := DefaultConfig("/tmp/scout")
		assert.Equal(t, "/tmp/scout", cfg.Path)
		assert.True(t, cfg.SyncWrites)
		assert.True(t, cfg.VerifySourceHash)
		assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
		assert.Equal(t, DefaultGCInterval, cfg.GCInterval)
	})

	t.Run("InMemoryConfig disables GC", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Equal(t, time.Duration(0), cfg.GCInterval)
	})
}

func TestStore_PutLookup(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	err := store.Put(ctx, query, inventoryBundle(root))
	require.NoError(t, err)

	got, reason := store.Lookup(ctx, query)
	require.Equal(t, MissNone, reason)
	require.NotNil(t, got)
	assert.Equal(t, datatypes.KindInventory, got.Kind)
	assert.Equal(t, root, got.Root)
	assert.Len(t, got.Inventory.Files, 1)
	assert.False(t, got.GeneratedAt.IsZero(), "Put should stamp GeneratedAt")
	assert.NotEmpty(t, got.SourceHash, "Put should stamp SourceHash")
}

func TestStore_Lookup_NotFound(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())

	got, reason := store.Lookup(context.Background(), inventoryQuery(t.TempDir()))
	assert.Nil(t, got)
	assert.Equal(t, MissNotFound, reason)
}

func TestStore_Put_RejectsInvalidBundle(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)

	t.Run("nil bundle", func(t *testing.T) {
		err := store.Put(context.Background(), inventoryQuery(root), nil)
		assert.Error(t, err)
	})

	t.Run("no payload", func(t *testing.T) {
		bundle := &datatypes.DataBundle{Kind: datatypes.KindInventory, Root: root}
		err := store.Put(context.Background(), inventoryQuery(root), bundle)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid bundle")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := store.Put(ctx, inventoryQuery(root), inventoryBundle(root))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "context cancelled")
	})
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	root := writeProject(t)
	ctx := context.Background()

	cfg := DefaultConfig(filepath.Join(dir, "db"))
	cfg.GCInterval = 0 // No GC churn in tests.

	store, err := Open(cfg)
	require.NoError(t, err)

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))
	require.NoError(t, store.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, reason := reopened.Lookup(ctx, query)
	require.Equal(t, MissNone, reason)
	assert.Equal(t, root, got.Root)
}

func TestStore_Lookup_Expired(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.MaxAge = time.Millisecond
	cfg.VerifySourceHash = false
	store := newTestStore(t, cfg)
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))

	time.Sleep(5 * time.Millisecond)

	got, reason := store.Lookup(ctx, query)
	assert.Nil(t, got)
	assert.Equal(t, MissExpired, reason)
}

func TestStore_Lookup_VersionMismatch(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.ToolVersion = "0.5.0"
	cfg.VerifySourceHash = false
	store := newTestStore(t, cfg)
	root := writeProject(t)
	ctx := context.Background()

	bundle := inventoryBundle(root)
	bundle.ToolVersion = "0.4.0" // Recorded by an older tracer.

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, bundle))

	got, reason := store.Lookup(ctx, query)
	assert.Nil(t, got)
	assert.Equal(t, MissVersionMismatch, reason)
}

func TestStore_Lookup_SourceChanged(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))

	// Grow the file so both size and mtime change.
	err := os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644)
	require.NoError(t, err)

	// Drop the memoized hash the way the watcher would; otherwise the
	// lookup may reuse the hash computed during Put.
	store.hashes.invalidate(root)

	got, reason := store.Lookup(ctx, query)
	assert.Nil(t, got)
	assert.Equal(t, MissSourceChanged, reason)
}

func TestStore_Lookup_MissingHashIsStale(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	// Write an entry directly with no recorded hash, simulating a hash
	// failure at store time.
	bundle := inventoryBundle(root)
	bundle.GeneratedAt = time.Now().UTC()
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	query := inventoryQuery(root)
	err = store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bundleKey(query), raw)
	})
	require.NoError(t, err)

	got, reason := store.Lookup(ctx, query)
	assert.Nil(t, got)
	assert.Equal(t, MissSourceChanged, reason)
}

func TestStore_Lookup_CorruptEntryDropped(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bundleKey(query), []byte("{not json"))
	})
	require.NoError(t, err)

	got, reason := store.Lookup(ctx, query)
	assert.Nil(t, got)
	assert.Equal(t, MissUnreadable, reason)

	// The corrupt entry is removed, so the next lookup is a plain miss.
	_, reason = store.Lookup(ctx, query)
	assert.Equal(t, MissNotFound, reason)
}

func TestStore_Invalidate(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	root := writeProject(t)
	ctx := context.Background()

	query := inventoryQuery(root)
	require.NoError(t, store.Put(ctx, query, inventoryBundle(root)))
	require.NoError(t, store.Invalidate(ctx, query))

	_, reason := store.Lookup(ctx, query)
	assert.Equal(t, MissNotFound, reason)
}

func TestStore_InvalidateRoot(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())
	rootA := writeProject(t)
	rootB := writeProject(t)
	ctx := context.Background()

	// Two bundles for rootA, one for rootB.
	require.NoError(t, store.Put(ctx, inventoryQuery(rootA), inventoryBundle(rootA)))
	patterns := &datatypes.DataBundle{
		Kind:     datatypes.KindPatterns,
		Root:     rootA,
		Tier:     datatypes.TierLive,
		Patterns: &datatypes.PatternData{ScannedFiles: 1},
	}
	patternsQuery := datatypes.Query{Kind: datatypes.KindPatterns, Root: rootA}
	require.NoError(t, store.Put(ctx, patternsQuery, patterns))
	require.NoError(t, store.Put(ctx, inventoryQuery(rootB), inventoryBundle(rootB)))

	removed, err := store.InvalidateRoot(ctx, rootA)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, reason := store.Lookup(ctx, inventoryQuery(rootA))
	assert.Equal(t, MissNotFound, reason)

	// rootB is untouched.
	_, reason = store.Lookup(ctx, inventoryQuery(rootB))
	assert.Equal(t, MissNone, reason)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_InvalidateRoot_Empty(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())

	removed, err := store.InvalidateRoot(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestStore_Count_Empty(t *testing.T) {
	store := newTestStore(t, InMemoryConfig())

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBundleKey(t *testing.T) {
	root := "/home/dev/project"
	inv := datatypes.Query{Kind: datatypes.KindInventory, Root: root}
	deps := datatypes.Query{Kind: datatypes.KindDependencies, Root: root}

	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, bundleKey(inv), bundleKey(inv))
	})

	t.Run("kinds get distinct keys", func(t *testing.T) {
		assert.NotEqual(t, bundleKey(inv), bundleKey(deps))
	})

	t.Run("same root shares a prefix", func(t *testing.T) {
		prefix := rootKeyPrefix(root)
		assert.True(t, bytes.HasPrefix(bundleKey(inv), prefix))
		assert.True(t, bytes.HasPrefix(bundleKey(deps), prefix))
	})

	t.Run("different roots do not share a prefix", func(t *testing.T) {
		other := datatypes.Query{Kind: datatypes.KindInventory, Root: "/somewhere/else"}
		assert.False(t, bytes.HasPrefix(bundleKey(other), rootKeyPrefix(root)))
	})
}
