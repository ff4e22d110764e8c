// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scout

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/config"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// testConfig points the sidecar at a binary that does not exist, so the
// live tier fails fast and every resolve lands on the fallback engine.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("ALEUTIAN_TRACER_BIN", "")

	cfg := config.Default()
	cfg.Sidecar.Command = "scout-test-no-such-tracer"
	cfg.Sidecar.StartupTimeout = 2 * time.Second
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.Cache.Watch = false
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg config.Config) *Service {
	t.Helper()
	svc, err := NewService(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc
}

// writeProject creates a minimal Go project to analyze.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	main := "package main\n\nfunc main() {\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}
	gomod := "module example.com/scratch\n\ngo 1.25\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func inventoryQuery(root string) datatypes.Query {
	return datatypes.Query{Kind: datatypes.KindInventory, Root: root}
}

func TestNewService_StartsWithoutTracer(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	if !svc.CacheEnabled() {
		t.Error("in-memory cache should be enabled")
	}
	if svc.SidecarUp() {
		t.Error("no sidecar should be alive before the first query")
	}
	if got := svc.SidecarVersion(); got != "" {
		t.Errorf("SidecarVersion = %q, want empty before any spawn", got)
	}
	if got := svc.WatchedRoots(); got != 0 {
		t.Errorf("WatchedRoots = %d, want 0", got)
	}
}

func TestNewService_BadRetryConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = -5

	if _, err := NewService(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for invalid retry settings")
	}
}

func TestService_ResolveFallsBackWhenTracerMissing(t *testing.T) {
	svc := newTestService(t, testConfig(t))
	root := writeProject(t)

	result := svc.Resolve(context.Background(), inventoryQuery(root))

	if result == nil || result.Bundle == nil {
		t.Fatal("Resolve returned no bundle")
	}
	if result.Tier() != datatypes.TierFallback {
		t.Errorf("Tier = %q, want %q", result.Tier(), datatypes.TierFallback)
	}
	if !result.Bundle.Degraded {
		t.Error("fallback bundle should be marked degraded")
	}
	if result.Bundle.Inventory == nil {
		t.Fatal("inventory payload missing")
	}
	if len(result.Bundle.Inventory.Files) == 0 {
		t.Error("heuristic inventory found no files")
	}

	summary := svc.Telemetry()
	if summary.TotalResolves != 1 {
		t.Errorf("TotalResolves = %d, want 1", summary.TotalResolves)
	}
}

func TestService_WarmFailsWithoutTracer(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := svc.Warm(ctx); err == nil {
		t.Fatal("Warm should fail when the tracer binary is missing")
	}

	// A failed warm-up must not take queries down with it.
	result := svc.Resolve(context.Background(), inventoryQuery(writeProject(t)))
	if result.Tier() != datatypes.TierFallback {
		t.Errorf("Tier = %q, want %q after failed warm-up", result.Tier(), datatypes.TierFallback)
	}
}

func TestService_ConcurrentResolvesCollapse(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	roots := []string{writeProject(t), writeProject(t), writeProject(t)}
	const callers = 12

	var wg sync.WaitGroup
	results := make([]*callerOutcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := svc.Resolve(context.Background(), inventoryQuery(roots[i%len(roots)]))
			results[i] = &callerOutcome{tier: res.Tier(), ok: res.Bundle != nil}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r == nil || !r.ok {
			t.Fatalf("caller %d got no bundle", i)
		}
		if r.tier != datatypes.TierFallback {
			t.Errorf("caller %d tier = %q, want %q", i, r.tier, datatypes.TierFallback)
		}
	}

	// Identical in-flight queries share one tier walk, so the recorder
	// sees between one resolve per distinct root and one per caller.
	total := svc.Telemetry().TotalResolves
	if total < int64(len(roots)) || total > int64(callers) {
		t.Errorf("TotalResolves = %d, want between %d and %d", total, len(roots), callers)
	}
}

// callerOutcome keeps per-caller outcomes without sharing the resolver
// result across goroutines.
type callerOutcome struct {
	tier datatypes.Tier
	ok   bool
}

func TestService_WatcherStartsOnResolve(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Watch = true
	svc := newTestService(t, cfg)
	root := writeProject(t)

	svc.Resolve(context.Background(), inventoryQuery(root))
	if got := svc.WatchedRoots(); got != 1 {
		t.Fatalf("WatchedRoots = %d, want 1", got)
	}

	// Same root again: no second watcher.
	svc.Resolve(context.Background(), inventoryQuery(root))
	if got := svc.WatchedRoots(); got != 1 {
		t.Errorf("WatchedRoots = %d after repeat resolve, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := svc.WatchedRoots(); got != 0 {
		t.Errorf("WatchedRoots = %d after Close, want 0", got)
	}
}
