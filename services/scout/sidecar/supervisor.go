// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sidecar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// EnvTracerBin overrides the sidecar binary path.
	EnvTracerBin = "ALEUTIAN_TRACER_BIN"

	// DefaultTracerCommand is the binary resolved from PATH when the
	// environment override is unset.
	DefaultTracerCommand = "aleutian-tracer"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds sidecar process settings.
type Config struct {
	// Command is the sidecar binary (name on PATH or absolute path).
	Command string

	// Args are extra arguments passed to the sidecar.
	Args []string

	// Root is the project root the sidecar analyzes (also its working dir).
	Root string

	// StartupTimeout bounds spawn plus handshake.
	StartupTimeout time.Duration

	// RequestTimeout is the default per-request deadline applied when the
	// caller's context carries none.
	RequestTimeout time.Duration

	// ShutdownGrace is how long to wait for a clean exit before killing.
	ShutdownGrace time.Duration

	// SpawnInterval is the minimum sustained spacing between respawns.
	// Together with SpawnBurst it stops a crash-looping sidecar from
	// pinning a core.
	SpawnInterval time.Duration

	// SpawnBurst is how many spawns may happen back to back before the
	// interval applies.
	SpawnBurst int
}

// DefaultConfig returns the default sidecar configuration.
//
// The binary is taken from the ALEUTIAN_TRACER_BIN environment variable,
// falling back to "aleutian-tracer" on PATH.
func DefaultConfig() Config {
	command := os.Getenv(EnvTracerBin)
	if command == "" {
		command = DefaultTracerCommand
	}
	return Config{
		Command:        command,
		StartupTimeout: 30 * time.Second,
		RequestTimeout: 2 * time.Minute,
		ShutdownGrace:  5 * time.Second,
		SpawnInterval:  time.Second,
		SpawnBurst:     3,
	}
}

// =============================================================================
// SUPERVISOR
// =============================================================================

// Supervisor manages the lifecycle of a single sidecar process.
//
// Description:
//
//	Lazily spawns the sidecar on first use and hands out the live handle
//	afterwards. At most one process is alive at a time: concurrent callers
//	racing on a cold start are serialized, and a respawn happens only once
//	the previous process is confirmed dead. A rate limiter keeps a
//	crash-looping binary from respawning in a tight loop.
//
// Thread Safety:
//
//	Safe for concurrent use by multiple goroutines.
type Supervisor struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	current *Server

	// startMu serializes spawn attempts so racing callers share one
	// process instead of each spawning their own.
	startMu sync.Mutex

	limiter *rate.Limiter

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates a supervisor for the sidecar process.
//
// Inputs:
//
//	config - Process settings; zero-value fields fall back to defaults
//	logger - Structured logger; nil falls back to slog.Default()
//
// Outputs:
//
//	*Supervisor - Ready to use; no process is spawned until EnsureConnected
func NewSupervisor(config Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Command == "" {
		config.Command = defaults.Command
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = defaults.StartupTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if config.SpawnInterval <= 0 {
		config.SpawnInterval = defaults.SpawnInterval
	}
	if config.SpawnBurst <= 0 {
		config.SpawnBurst = defaults.SpawnBurst
	}

	return &Supervisor{
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(config.SpawnInterval), config.SpawnBurst),
		stopped: make(chan struct{}),
	}
}

// EnsureConnected returns the live sidecar handle, spawning it if needed.
//
// Description:
//
//	Fast path returns the existing ready handle without blocking other
//	readers. On a cold start or after a crash, exactly one caller spawns
//	while the rest wait; everyone then shares the same handle. The spawn
//	(including handshake) is bounded by the startup timeout.
//
// Inputs:
//
//	ctx - Context for cancellation during spawn
//
// Outputs:
//
//	*Server - A ready sidecar handle
//	error - Non-nil if the sidecar could not be made ready
//
// Errors:
//
//	ErrSupervisorClosed - Supervisor was closed
//	ErrSidecarNotInstalled - Binary not found (terminal)
//	ErrSpawnFailed - Process failed to start (terminal)
//	ErrSpawnThrottled - Respawning too fast; try again later
//	ErrHandshakeFailed - Warm-up handshake failed
//
// Thread Safety:
//
//	Safe for concurrent use.
func (sv *Supervisor) EnsureConnected(ctx context.Context) (*Server, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	select {
	case <-sv.stopped:
		return nil, ErrSupervisorClosed
	default:
	}

	// Fast path: a ready handle already exists.
	sv.mu.RLock()
	if sv.current != nil && sv.current.Alive() {
		server := sv.current
		sv.mu.RUnlock()
		return server, nil
	}
	sv.mu.RUnlock()

	sv.startMu.Lock()
	defer sv.startMu.Unlock()

	select {
	case <-sv.stopped:
		return nil, ErrSupervisorClosed
	default:
	}

	// Double-check: another caller may have spawned while we waited.
	sv.mu.RLock()
	if sv.current != nil && sv.current.Alive() {
		server := sv.current
		sv.mu.RUnlock()
		return server, nil
	}
	dead := sv.current
	sv.mu.RUnlock()

	// Respawn only once the previous process is confirmed gone.
	if dead != nil {
		sv.logger.Info("cleaning up dead sidecar",
			slog.Int("pid", dead.PID()),
			slog.String("state", dead.State().String()),
		)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sv.config.ShutdownGrace)
		_ = dead.Shutdown(shutdownCtx)
		cancel()

		sv.mu.Lock()
		sv.current = nil
		sv.mu.Unlock()
	}

	if !sv.limiter.Allow() {
		sv.logger.Warn("sidecar respawn throttled",
			slog.String("command", sv.config.Command),
		)
		return nil, ErrSpawnThrottled
	}

	server := NewServer(sv.config, sv.logger)

	startupCtx, cancel := context.WithTimeout(ctx, sv.config.StartupTimeout)
	defer cancel()

	if err := server.Start(startupCtx); err != nil {
		return nil, err
	}

	sv.mu.Lock()
	sv.current = server
	sv.mu.Unlock()

	return server, nil
}

// Current returns the current handle without spawning, or nil.
//
// The handle may be in any state; callers wanting a ready handle should
// use EnsureConnected.
func (sv *Supervisor) Current() *Server {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.current
}

// Close shuts down the supervised process and rejects future spawns.
//
// Thread Safety:
//
//	Safe for concurrent use; only the first call does work.
func (sv *Supervisor) Close(ctx context.Context) error {
	var server *Server
	sv.stopOnce.Do(func() {
		close(sv.stopped)
		sv.mu.Lock()
		server = sv.current
		sv.current = nil
		sv.mu.Unlock()
	})

	if server != nil {
		sv.logger.Info("supervisor closing", slog.Int("pid", server.PID()))
		return server.Shutdown(ctx)
	}
	return nil
}
