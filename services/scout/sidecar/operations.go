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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client provides high-level tracer operations.
//
// Description:
//
//	Wraps the Supervisor to provide typed methods for the analysis
//	queries the sidecar answers: inventory scans, dependency queries,
//	pattern detection, and coverage gap analysis. The sidecar is spawned
//	on first use; after a crash the next call respawns it.
//
//	The Client performs exactly one attempt per call. Retry policy
//	belongs to the caller, which knows whether the operation is worth
//	repeating.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	supervisor *Supervisor
}

// NewClient creates a Client instance.
//
// Inputs:
//
//	supervisor - The supervisor owning the sidecar process
//
// Outputs:
//
//	*Client - The typed operations wrapper
func NewClient(supervisor *Supervisor) *Client {
	return &Client{supervisor: supervisor}
}

// Supervisor returns the underlying supervisor.
func (c *Client) Supervisor() *Supervisor {
	return c.supervisor
}

// ToolVersion returns the sidecar version reported during the warm-up
// handshake, or "" when no sidecar has been spawned yet. Resolved bundles
// carry it so the artifact store can judge version staleness later.
func (c *Client) ToolVersion() string {
	if server := c.supervisor.Current(); server != nil {
		return server.Info().Version
	}
	return ""
}

// MethodForKind maps a logical query kind to its wire method.
//
// Outputs:
//
//	string - The wire method name
//	error - Non-nil if the kind is not supported
func MethodForKind(kind datatypes.Kind) (string, error) {
	switch kind {
	case datatypes.KindInventory:
		return MethodInventory, nil
	case datatypes.KindDependencies:
		return MethodDependencies, nil
	case datatypes.KindPatterns:
		return MethodPatterns, nil
	case datatypes.KindCoverageGaps:
		return MethodCoverageGaps, nil
	}
	return "", fmt.Errorf("no wire method for kind %q", kind)
}

// request ensures a live sidecar and performs one request against it.
func (c *Client) request(ctx context.Context, method string, params QueryParams) (*Response, error) {
	server, err := c.supervisor.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	return server.Request(ctx, method, params)
}

// Call performs a raw query for the given kind and returns the result body.
//
// Description:
//
//	Untyped variant of the operation methods, used when the caller wants
//	to forward the payload without interpreting it.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	kind - Logical query kind
//	root - Project root to analyze
//	filters - Optional kind-specific refinements
//
// Outputs:
//
//	json.RawMessage - The raw result body (may be empty)
//	error - Non-nil on failure
func (c *Client) Call(ctx context.Context, kind datatypes.Kind, root string, filters map[string]string) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	method, err := MethodForKind(kind)
	if err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, method, QueryParams{Root: root, Filters: filters})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// =============================================================================
// INVENTORY OPERATION
// =============================================================================

// ScanInventory scans the project file inventory.
//
// Description:
//
//	Sends a trace/inventory request and returns the file records the
//	sidecar produced for the project root.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	root - Absolute path to the project root
//	filters - Optional refinements (e.g. "ext": ".go")
//
// Outputs:
//
//	*datatypes.InventoryData - The scanned inventory
//	error - Non-nil on failure
//
// Errors:
//
//	ErrSidecarNotInstalled - Binary not found
//	ErrRequestTimeout - Request timed out
//	ErrConnClosed - Sidecar died mid-call
//
// Example:
//
//	inv, err := client.ScanInventory(ctx, "/project", nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d files, %d lines\n", len(inv.Files), inv.TotalLines)
func (c *Client) ScanInventory(ctx context.Context, root string, filters map[string]string) (*datatypes.InventoryData, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "ScanInventory", root)
	defer span.End()
	start := time.Now()

	resp, err := c.request(ctx, MethodInventory, QueryParams{Root: root, Filters: filters})
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "inventory", time.Since(start), 0, false)
		return nil, fmt.Errorf("inventory request: %w", err)
	}

	var data datatypes.InventoryData
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "inventory", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: inventory result: %v", ErrInvalidResponse, err)
	}

	setOperationSpanResult(span, len(data.Files), true)
	recordOperationMetrics(ctx, "inventory", time.Since(start), len(data.Files), true)
	return &data, nil
}

// =============================================================================
// DEPENDENCIES OPERATION
// =============================================================================

// QueryDependencies reports the project's module dependency set.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	root - Absolute path to the project root
//	filters - Optional refinements (e.g. "direct_only": "true")
//
// Outputs:
//
//	*datatypes.DependencyData - Module path and requirements
//	error - Non-nil on failure
func (c *Client) QueryDependencies(ctx context.Context, root string, filters map[string]string) (*datatypes.DependencyData, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "QueryDependencies", root)
	defer span.End()
	start := time.Now()

	resp, err := c.request(ctx, MethodDependencies, QueryParams{Root: root, Filters: filters})
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "dependencies", time.Since(start), 0, false)
		return nil, fmt.Errorf("dependencies request: %w", err)
	}

	var data datatypes.DependencyData
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "dependencies", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: dependencies result: %v", ErrInvalidResponse, err)
	}

	setOperationSpanResult(span, len(data.Requirements), true)
	recordOperationMetrics(ctx, "dependencies", time.Since(start), len(data.Requirements), true)
	return &data, nil
}

// =============================================================================
// PATTERNS OPERATION
// =============================================================================

// DetectPatterns detects recurring code patterns and smells.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	root - Absolute path to the project root
//	filters - Optional refinements (e.g. "severity": "warning")
//
// Outputs:
//
//	*datatypes.PatternData - Detected pattern matches
//	error - Non-nil on failure
func (c *Client) DetectPatterns(ctx context.Context, root string, filters map[string]string) (*datatypes.PatternData, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "DetectPatterns", root)
	defer span.End()
	start := time.Now()

	resp, err := c.request(ctx, MethodPatterns, QueryParams{Root: root, Filters: filters})
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "patterns", time.Since(start), 0, false)
		return nil, fmt.Errorf("patterns request: %w", err)
	}

	var data datatypes.PatternData
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "patterns", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: patterns result: %v", ErrInvalidResponse, err)
	}

	setOperationSpanResult(span, len(data.Matches), true)
	recordOperationMetrics(ctx, "patterns", time.Since(start), len(data.Matches), true)
	return &data, nil
}

// =============================================================================
// COVERAGE GAPS OPERATION
// =============================================================================

// CoverageGaps finds source files without paired tests.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	root - Absolute path to the project root
//	filters - Optional refinements
//
// Outputs:
//
//	*datatypes.CoverageData - Coverage gaps and pairing counts
//	error - Non-nil on failure
func (c *Client) CoverageGaps(ctx context.Context, root string, filters map[string]string) (*datatypes.CoverageData, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "CoverageGaps", root)
	defer span.End()
	start := time.Now()

	resp, err := c.request(ctx, MethodCoverageGaps, QueryParams{Root: root, Filters: filters})
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "coverage_gaps", time.Since(start), 0, false)
		return nil, fmt.Errorf("coverage gaps request: %w", err)
	}

	var data datatypes.CoverageData
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "coverage_gaps", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: coverage gaps result: %v", ErrInvalidResponse, err)
	}

	setOperationSpanResult(span, len(data.Gaps), true)
	recordOperationMetrics(ctx, "coverage_gaps", time.Since(start), len(data.Gaps), true)
	return &data, nil
}
