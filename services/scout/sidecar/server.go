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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of a sidecar process.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the process is spawning and handshaking.
	ServerStateStarting

	// ServerStateReady means the sidecar answered the handshake and
	// accepts requests.
	ServerStateReady

	// ServerStateStopping means the sidecar is shutting down.
	ServerStateStopping

	// ServerStateStopped means the process has terminated or crashed.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER
// =============================================================================

// Server represents one spawned sidecar process.
//
// Description:
//
//	Owns the lifecycle of a single aleutian-tracer process: spawn,
//	warm-up handshake, request dispatch, and graceful shutdown with a
//	kill fallback. The Server holds the only writable reference to the
//	child's stdin; no other component writes to the stream directly.
//
//	When the process dies the read loop fails every outstanding call and
//	flips the state to stopped, so the Supervisor respawns on next use.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Server struct {
	config Config
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	protocol *Protocol
	info     ServerInfo

	state   ServerState
	stateMu sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	readDone  chan struct{}
	startedAt time.Time
}

// NewServer creates a new server instance (not started).
//
// Inputs:
//
//	config - Sidecar configuration (command, timeouts)
//	logger - Structured logger; nil falls back to slog.Default()
//
// Outputs:
//
//	*Server - The configured (but not started) server
func NewServer(config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   config,
		logger:   logger,
		state:    ServerStateUninitialized,
		readDone: make(chan struct{}),
	}
}

// Start spawns the sidecar process and performs the warm-up handshake.
//
// Description:
//
//	Resolves the binary, starts the process with captured stdin/stdout,
//	launches the read loop, and waits (bounded by ctx) for the initialize
//	handshake to complete. On success the server is ready for requests.
//
// Inputs:
//
//	ctx - Context bounding the warm-up wait
//
// Outputs:
//
//	error - Non-nil if the sidecar failed to spawn or handshake
//
// Errors:
//
//	ErrSidecarNotInstalled - Binary not found on PATH (terminal)
//	ErrSpawnFailed - Process could not be started (terminal)
//	ErrAlreadyStarted - Start called on a non-fresh server
//	ErrHandshakeFailed - Warm-up handshake failed or timed out
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateStopped)
		s.logger.Warn("sidecar binary not found",
			slog.String("command", s.config.Command),
			slog.String("env_override", EnvTracerBin),
		)
		return fmt.Errorf("%w: %s", ErrSidecarNotInstalled, s.config.Command)
	}

	s.logger.Info("starting sidecar",
		slog.String("command", path),
		slog.String("root", s.config.Root),
	)

	// The process outlives any single caller; its context is server-owned.
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cmd = exec.CommandContext(s.ctx, path, s.config.Args...)
	if s.config.Root != "" {
		s.cmd.Dir = s.config.Root
	}

	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}

	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		recordSpawn(ctx, false)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	s.startedAt = time.Now()

	s.protocol = NewProtocol(s.stdout, s.stdin, s.logger)

	go s.runReadLoop()

	if err := s.initialize(ctx); err != nil {
		recordSpawn(ctx, false)
		_ = s.Shutdown(ctx)
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	s.setState(ServerStateReady)
	recordSpawn(ctx, true)

	s.logger.Info("sidecar ready",
		slog.Int("pid", s.cmd.Process.Pid),
		slog.String("server", s.info.Name),
		slog.String("version", s.info.Version),
	)

	return nil
}

// runReadLoop drives the protocol read loop and marks the server dead when
// it exits. All outstanding calls are failed in the same step, so callers
// observe the crash within one detection cycle.
func (s *Server) runReadLoop() {
	defer close(s.readDone)

	err := s.protocol.ReadLoop(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, ErrSidecarCrashed) {
			s.logger.Error("sidecar process died",
				slog.Int("pid", s.PID()),
			)
			recordCrash(context.Background())
		} else {
			s.logger.Error("sidecar read loop failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.protocol.Close(err)

	// A crash mid-flight must flip the state so the supervisor respawns;
	// an orderly Shutdown has already moved past ready.
	s.stateMu.Lock()
	if s.state == ServerStateReady || s.state == ServerStateStarting {
		s.state = ServerStateStopped
	}
	s.stateMu.Unlock()
}

// initialize performs the warm-up handshake.
func (s *Server) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		Root:      s.config.Root,
		ClientInfo: ClientInfo{
			Name:    "aleutian-scout",
			Version: Version,
		},
	}

	resp, err := s.protocol.SendRequest(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	// Older sidecars answer with an empty result.
	if len(resp.Result) > 0 {
		var result InitializeResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return fmt.Errorf("parse initialize result: %w", err)
		}
		s.info = result.ServerInfo
	}

	return nil
}

// Shutdown gracefully shuts down the sidecar.
//
// Description:
//
//	Sends a shutdown request, closes stdin to signal EOF, then waits up
//	to the configured grace period before force-killing the process. The
//	handle is always released, even when the grace period is overrun.
//
// Inputs:
//
//	ctx - Context for the graceful shutdown request
//
// Outputs:
//
//	error - Reserved; currently always nil once the process is gone
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == ServerStateStopped || s.state == ServerStateStopping {
		s.stateMu.Unlock()
		return nil
	}
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	s.logger.Info("shutting down sidecar", slog.Int("pid", s.PID()))

	defer s.cleanup()

	grace := s.config.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	if s.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, grace)
		_, _ = s.protocol.SendRequest(shutdownCtx, MethodShutdown, nil)
		cancel()
		s.protocol.Close(nil)
	}

	// EOF on stdin is the exit signal for well-behaved sidecars.
	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-time.After(grace):
			_ = s.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	// The read loop only ran if the process was actually spawned.
	if s.cmd != nil {
		select {
		case <-s.readDone:
		case <-time.After(time.Second):
		}
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.setState(ServerStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Alive reports whether the process is believed to be running and ready.
func (s *Server) Alive() bool {
	return s.State() == ServerStateReady
}

// PID returns the process id, or 0 before spawn.
func (s *Server) PID() int {
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// StartedAt returns when the process was spawned.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// Info returns the sidecar build info reported during the handshake.
//
// Returns the zero value if the sidecar didn't report one.
func (s *Server) Info() ServerInfo {
	return s.info
}

// =============================================================================
// REQUEST DISPATCH
// =============================================================================

// Request sends a request and waits for the matching response.
//
// Description:
//
//	Sends a request to the sidecar and blocks until the response arrives
//	or the deadline expires. When the caller's context carries no
//	deadline, the configured default request timeout applies; remote
//	analysis is CPU-bound and proportional to project size, so the
//	default is generous.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The method to invoke
//	params - Method parameters
//
// Outputs:
//
//	*Response - The sidecar's response
//	error - ErrSidecarNotRunning, ErrRequestTimeout, ErrConnClosed, or *RemoteError
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrSidecarNotRunning
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends a notification (no response expected).
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrSidecarNotRunning
	}
	return s.protocol.SendNotification(method, params)
}

// setState updates the lifecycle state.
func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
