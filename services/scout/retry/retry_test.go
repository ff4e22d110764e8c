// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
)

// fastConfig keeps the waits negligible under test.
func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
	}
}

func mustPolicy(t *testing.T, config Config) *Policy {
	t.Helper()
	p, err := NewPolicy(config)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "default config is valid",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "zero max attempts is invalid",
			config:  Config{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 1.0},
			wantErr: true,
		},
		{
			name:    "negative initial backoff is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: -time.Second, MaxBackoff: time.Second, BackoffFactor: 1.0},
			wantErr: true,
		},
		{
			name:    "max backoff less than initial is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: 10 * time.Second, MaxBackoff: time.Second, BackoffFactor: 1.0},
			wantErr: true,
		},
		{
			name:    "backoff factor less than 1 is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 0.5},
			wantErr: true,
		},
		{
			name:    "jitter above 1 is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 1.0, JitterFactor: 1.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewPolicy_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewPolicy(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPolicy_Do_SuccessOnFirstAttempt(t *testing.T) {
	p := mustPolicy(t, fastConfig())

	var attempts int32
	result, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %d times, want 1", attempts)
	}
}

func TestPolicy_Do_SuccessOnSecondAttempt(t *testing.T) {
	p := mustPolicy(t, fastConfig())

	var attempts int32
	result, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return sidecar.ErrRequestTimeout
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestPolicy_Do_TransientExhaustsAllAttempts(t *testing.T) {
	p := mustPolicy(t, fastConfig())

	var attempts int32
	result, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return sidecar.ErrSidecarCrashed
	})

	if !errors.Is(err, sidecar.ErrSidecarCrashed) {
		t.Errorf("expected last error, got %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want exactly 3", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("function called %d times, want 3", attempts)
	}
}

func TestPolicy_Do_TerminalAttemptsOnce(t *testing.T) {
	p := mustPolicy(t, fastConfig())

	var attempts int32
	result, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return sidecar.ErrSidecarNotInstalled
	})

	if !errors.Is(err, sidecar.ErrSidecarNotInstalled) {
		t.Errorf("expected terminal error, got %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want exactly 1", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %d times, want 1", attempts)
	}
}

func TestPolicy_Do_ContextCancellationWinsOverBackoff(t *testing.T) {
	config := fastConfig()
	config.InitialBackoff = 10 * time.Second
	config.MaxBackoff = 10 * time.Second
	p := mustPolicy(t, config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		return sidecar.ErrRequestTimeout
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Do blocked %v, should have been cancelled", elapsed)
	}
}

func TestPolicy_ShouldRetry_HonorsAttemptCeiling(t *testing.T) {
	p := mustPolicy(t, fastConfig())

	if !p.ShouldRetry(sidecar.ErrRequestTimeout, 1) {
		t.Error("transient error at attempt 1 should retry")
	}
	if !p.ShouldRetry(sidecar.ErrRequestTimeout, 2) {
		t.Error("transient error at attempt 2 should retry")
	}
	if p.ShouldRetry(sidecar.ErrRequestTimeout, 3) {
		t.Error("attempt 3 of 3 must not retry")
	}
	if p.ShouldRetry(sidecar.ErrSpawnFailed, 1) {
		t.Error("terminal error must not retry")
	}
}

func TestPolicy_BackoffFor(t *testing.T) {
	t.Run("fixed delay with factor 1", func(t *testing.T) {
		p := mustPolicy(t, Config{
			MaxAttempts:    3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     time.Second,
			BackoffFactor:  1.0,
		})

		for attempt := 1; attempt <= 3; attempt++ {
			if got := p.BackoffFor(attempt); got != 250*time.Millisecond {
				t.Errorf("BackoffFor(%d) = %v, want 250ms", attempt, got)
			}
		}
	})

	t.Run("exponential growth capped at max", func(t *testing.T) {
		p := mustPolicy(t, Config{
			MaxAttempts:    5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     300 * time.Millisecond,
			BackoffFactor:  2.0,
		})

		if got := p.BackoffFor(1); got != 100*time.Millisecond {
			t.Errorf("BackoffFor(1) = %v, want 100ms", got)
		}
		if got := p.BackoffFor(2); got != 200*time.Millisecond {
			t.Errorf("BackoffFor(2) = %v, want 200ms", got)
		}
		if got := p.BackoffFor(3); got != 300*time.Millisecond {
			t.Errorf("BackoffFor(3) = %v, want capped 300ms", got)
		}
		if got := p.BackoffFor(10); got != 300*time.Millisecond {
			t.Errorf("BackoffFor(10) = %v, want capped 300ms", got)
		}
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		p := mustPolicy(t, Config{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
			BackoffFactor:  1.0,
			JitterFactor:   0.2,
		})

		for i := 0; i < 50; i++ {
			got := p.BackoffFor(1)
			if got < 80*time.Millisecond || got > 120*time.Millisecond {
				t.Fatalf("BackoffFor(1) = %v, want within ±20%% of 100ms", got)
			}
		}
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, true},
		{"request timeout", sidecar.ErrRequestTimeout, true},
		{"wrapped request timeout", fmt.Errorf("inventory request: %w", sidecar.ErrRequestTimeout), true},
		{"sidecar crashed", sidecar.ErrSidecarCrashed, true},
		{"conn closed", sidecar.ErrConnClosed, true},
		{"not running", sidecar.ErrSidecarNotRunning, true},
		{"spawn throttled", sidecar.ErrSpawnThrottled, true},
		{"handshake failed", sidecar.ErrHandshakeFailed, true},
		{"malformed frame", sidecar.ErrMalformedFrame, true},
		{"not installed", sidecar.ErrSidecarNotInstalled, false},
		{"spawn failed", sidecar.ErrSpawnFailed, false},
		{"supervisor closed", sidecar.ErrSupervisorClosed, false},
		{"remote busy", &sidecar.RemoteError{Code: sidecar.CodeBusy, Message: "indexing"}, true},
		{"remote method not found", &sidecar.RemoteError{Code: sidecar.CodeMethodNotFound, Message: "nope"}, false},
		{"remote invalid params", &sidecar.RemoteError{Code: sidecar.CodeInvalidParams, Message: "bad root"}, false},
		{"textual connection reset", errors.New("read: connection reset by peer"), true},
		{"textual broken pipe", errors.New("write |1: broken pipe"), true},
		{"textual busy", errors.New("server busy, try again"), true},
		{"plain application error", errors.New("unknown project layout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
