// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := tt.level.toSlogLevel()
			if got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_AllLevels(t *testing.T) {
	levels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			logger := New(Config{Level: level, Quiet: true})
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			defer logger.Close()
		})
	}
}

func TestNew_WithService(t *testing.T) {
	logger := New(Config{
		Service: "test-service",
		Quiet:   true,
	})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.config.Service != "test-service" {
		t.Errorf("Service = %v, want test-service", logger.config.Service)
	}
	defer logger.Close()
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("expected log file to be opened")
	}

	wantName := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	if filepath.Base(logger.file.Name()) != wantName {
		t.Errorf("log file = %q, want %q", filepath.Base(logger.file.Name()), wantName)
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Quiet: true})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("expected log file to be opened")
	}
	if !strings.HasPrefix(filepath.Base(logger.file.Name()), "scout_") {
		t.Errorf("log file = %q, want scout_ prefix", filepath.Base(logger.file.Name()))
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	// A file (not dir) as LogDir should not panic; file logging is skipped.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Quiet: true})
	defer logger.Close()

	if logger.file != nil {
		t.Error("expected no log file for invalid LogDir")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.config.Service != "scout" {
		t.Errorf("Service = %q, want scout", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Level = %v, want Info", logger.config.Level)
	}
}

// =============================================================================
// Logging Method Tests
// =============================================================================

func TestLogger_FileContent(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "filetest",
		Quiet:   true,
	})

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg", "count", 3)
	logger.Warn("warn msg")
	logger.Error("error msg", "error", "boom")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %d (err=%v)", len(entries), err)
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)

	for _, want := range []string{"debug msg", "info msg", "warn msg", "error msg", `"service":"filetest"`} {
		if !strings.Contains(content, want) {
			t.Errorf("log file missing %q\ncontent: %s", want, content)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:  LevelWarn,
		LogDir: dir,
		Quiet:  true,
	})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("warn appears")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	if strings.Contains(string(data), "should not appear") {
		t.Error("filtered levels leaked into log file")
	}
	if !strings.Contains(string(data), "warn appears") {
		t.Error("warn message missing from log file")
	}
}

func TestLogger_With(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	child := logger.With("component", "resolver")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == logger {
		t.Error("With() should return a new logger")
	}
	if child.file != logger.file {
		t.Error("With() should share the file handle")
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_Close_NoResources(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Info("concurrent", "goroutine", n, "iter", j)
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled should be true when any handler accepts the level")
	}
}

func TestMultiHandler_Enabled_NoneEnabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled should be false when no handler accepts the level")
	}
}

func TestMultiHandler_Empty(t *testing.T) {
	h := &multiHandler{}
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Error("empty multiHandler should report not enabled")
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		name := tt.in
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
