// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry bounds repeated attempts against the sidecar.
//
// The policy separates two questions: is this error worth repeating
// (transient vs terminal), and how long to wait before the next try.
// Only transient failures (timeouts, a crashed or busy sidecar, a resetting
// connection) are retried; malformed arguments, unknown methods, and
// explicit remote rejections are surfaced after a single attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
)

// ErrInvalidConfig indicates a retry configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid retry config")

// =============================================================================
// CONFIG
// =============================================================================

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait duration before the first retry.
	// Default: 250ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait duration between retries.
	// Default: 1s
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied per retry. A factor of 1.0
	// keeps the delay fixed, which is the default: the backoff smooths
	// over brief unavailability, it is not congestion control.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	// Default: 0
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration: three attempts
// with a fixed short delay between them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  1.0,
		JitterFactor:   0,
	}
}

// Validate checks if the retry configuration is valid.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidConfig
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// =============================================================================
// POLICY
// =============================================================================

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// Func is an operation that can be retried. It should return nil on
// success; the attempt argument is 1-based.
type Func func(ctx context.Context, attempt int) error

// Policy applies a validated retry configuration.
//
// Thread Safety:
//
//	Safe for concurrent use; the policy is immutable after creation.
type Policy struct {
	config Config
}

// NewPolicy creates a retry policy from the given configuration.
//
// Outputs:
//
//	*Policy - The policy
//	error - ErrInvalidConfig if the configuration is unusable
func NewPolicy(config Config) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Policy{config: config}, nil
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config {
	return p.config
}

// ShouldRetry reports whether another attempt is warranted after err.
//
// Inputs:
//
//	err - The failure from the attempt just made
//	attempt - The 1-based number of that attempt
//
// Outputs:
//
//	bool - true when err is transient and the attempt ceiling is not hit
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.config.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// BackoffFor returns the wait duration after the given attempt.
func (p *Policy) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.config.BackoffFactor
		if backoff >= float64(p.config.MaxBackoff) {
			backoff = float64(p.config.MaxBackoff)
			break
		}
	}

	if p.config.JitterFactor > 0 {
		// base * (1 ± jitter) spreads synchronized retries apart.
		jitter := (rand.Float64()*2 - 1) * p.config.JitterFactor
		backoff *= 1.0 + jitter
	}

	return time.Duration(backoff)
}

// Do executes fn with the policy's retry behavior.
//
// Description:
//
//	Runs fn up to MaxAttempts times, waiting BackoffFor between attempts.
//	A terminal error returns immediately; context cancellation wins over
//	any pending backoff wait.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	fn - The operation to execute and potentially retry.
//
// Outputs:
//
//	Result - Statistics about the attempts made.
//	error - The last error if all attempts failed, nil on success.
//
// Example:
//
//	result, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
//	    _, callErr := client.ScanInventory(ctx, root, nil)
//	    return callErr
//	})
func (p *Policy) Do(ctx context.Context, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if !p.ShouldRetry(err, attempt) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(p.BackoffFor(attempt)):
		}
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// transientMarkers are textual hints of failures worth repeating, checked
// against lowercased error text when structural classification is
// inconclusive.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"broken pipe",
	"busy",
	"try again",
	"temporarily unavailable",
}

// IsTransient reports whether err is likely to succeed if retried.
//
// Description:
//
//	Classifies structurally first (sentinel errors from the sidecar
//	package, context deadlines, network error interfaces), then falls
//	back to scanning the error text for transient markers. Anything
//	unrecognized is treated as terminal: retrying cannot fix malformed
//	arguments or an unsupported method.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// A canceled caller is never worth retrying against.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Sidecar lifecycle errors: a dead or mid-respawn process recovers on
	// the next attempt, which acquires a fresh handle.
	if errors.Is(err, sidecar.ErrRequestTimeout) ||
		errors.Is(err, sidecar.ErrSidecarCrashed) ||
		errors.Is(err, sidecar.ErrConnClosed) ||
		errors.Is(err, sidecar.ErrSidecarNotRunning) ||
		errors.Is(err, sidecar.ErrSpawnThrottled) ||
		errors.Is(err, sidecar.ErrHandshakeFailed) ||
		errors.Is(err, sidecar.ErrMalformedFrame) {
		return true
	}

	// Spawn failures are terminal: a missing or unlaunchable binary does
	// not appear by retrying.
	if errors.Is(err, sidecar.ErrSidecarNotInstalled) ||
		errors.Is(err, sidecar.ErrSpawnFailed) ||
		errors.Is(err, sidecar.ErrSupervisorClosed) {
		return false
	}

	// Well-formed remote rejections are terminal unless the sidecar says
	// it is merely busy.
	var remote *sidecar.RemoteError
	if errors.As(err, &remote) {
		return remote.IsBusy()
	}

	// Connection errors: the peer might be restarting.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}
