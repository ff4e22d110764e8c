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
	"github.com/AleutianAI/AleutianScout/services/scout/artifact"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// ResolveRequest is the request body for POST /v1/scout/resolve.
type ResolveRequest struct {
	// Kind is the logical query: inventory, dependencies, patterns, or
	// coverage_gaps. Required.
	Kind string `json:"kind" binding:"required"`

	// Root is the project root directory to analyze. Required.
	Root string `json:"root" binding:"required"`

	// Filters narrow the query (scanner-specific keys).
	Filters map[string]string `json:"filters,omitempty"`

	// RequestID is echoed back in the response. Generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// ResolveResponse is the response for POST /v1/scout/resolve.
type ResolveResponse struct {
	// RequestID identifies this resolve.
	RequestID string `json:"request_id"`

	// Tier is the data source that answered: cache, live, or fallback.
	Tier datatypes.Tier `json:"tier"`

	// Degraded is true when the answer came from the heuristic engine
	// rather than the tracer.
	Degraded bool `json:"degraded"`

	// Attempts is how many sidecar attempts the live tier made.
	Attempts int `json:"attempts"`

	// CacheMiss is why the cache tier declined, when it was consulted.
	CacheMiss artifact.MissReason `json:"cache_miss,omitempty"`

	// LiveError is the last live-tier error, when the live tier declined.
	LiveError string `json:"live_error,omitempty"`

	// DurationMs is the total resolve time including retries.
	DurationMs int64 `json:"duration_ms"`

	// Bundle is the answer payload.
	Bundle *datatypes.DataBundle `json:"bundle"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code"`
}

// HealthResponse is the response for GET /v1/scout/health.
type HealthResponse struct {
	// Status is "healthy" if the service is running.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/scout/ready.
//
// The scout is always ready in the sense that every query gets an
// answer; the fields report how degraded that answer would be.
type ReadyResponse struct {
	// Ready is true when the service can answer queries.
	Ready bool `json:"ready"`

	// SidecarUp is true when a tracer process is currently alive.
	SidecarUp bool `json:"sidecar_up"`

	// SidecarVersion is the tracer version from the warm-up handshake,
	// empty when no tracer has been spawned yet.
	SidecarVersion string `json:"sidecar_version,omitempty"`

	// CacheEnabled is true when the artifact store opened successfully.
	CacheEnabled bool `json:"cache_enabled"`

	// WatchedRoots is how many project roots have an active file watcher.
	WatchedRoots int `json:"watched_roots"`
}
