// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared across the scout
// service: logical queries, the result bundles they resolve to, and the
// typed payloads produced by both the sidecar and the local heuristics.
package datatypes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// traceValidate is the validator instance for scout datatypes.
var traceValidate *validator.Validate

func init() {
	traceValidate = validator.New()
}

// =============================================================================
// Query Kinds
// =============================================================================

// Kind identifies a logical analysis query.
type Kind string

const (
	// KindInventory scans the project file inventory.
	KindInventory Kind = "inventory"

	// KindDependencies reports the module dependency set.
	KindDependencies Kind = "dependencies"

	// KindPatterns detects recurring code patterns and smells.
	KindPatterns Kind = "patterns"

	// KindCoverageGaps finds source files without paired tests.
	KindCoverageGaps Kind = "coverage_gaps"
)

// Kinds lists every supported query kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindInventory, KindDependencies, KindPatterns, KindCoverageGaps}
}

// Valid reports whether the kind is one of the supported query kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInventory, KindDependencies, KindPatterns, KindCoverageGaps:
		return true
	}
	return false
}

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a kind from its wire form.
//
// Outputs:
//
//	Kind - The parsed kind
//	error - Non-nil if the string names no supported kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown query kind: %q", s)
	}
	return k, nil
}

// =============================================================================
// Resolution Tiers
// =============================================================================

// Tier identifies which data source satisfied a query.
type Tier string

const (
	// TierCache means the bundle came from the local artifact store.
	TierCache Tier = "cache"

	// TierLive means the bundle came from the sidecar process.
	TierLive Tier = "live"

	// TierFallback means the bundle came from the built-in heuristics.
	TierFallback Tier = "fallback"
)

// Tiers lists the resolution tiers in consultation order.
func Tiers() []Tier {
	return []Tier{TierCache, TierLive, TierFallback}
}

// String returns the wire form of the tier.
func (t Tier) String() string {
	return string(t)
}

// =============================================================================
// Logical Query
// =============================================================================

// Query is a logical analysis request.
//
// # Description
//
// A Query names what to analyze (Kind), where (Root), and optional
// refinements (Filters). Callers never choose a data source; the resolver
// decides which tier answers.
//
// # Fields
//
//   - RequestID: Optional. Unique identifier for tracing. Generated when empty.
//   - Kind: Required. One of inventory, dependencies, patterns, coverage_gaps.
//   - Root: Required. Absolute path to the project root to analyze.
//   - Filters: Optional. Kind-specific refinements (e.g. "ext": ".go").
type Query struct {
	RequestID string            `json:"request_id,omitempty"`
	Kind      Kind              `json:"kind" validate:"required,oneof=inventory dependencies patterns coverage_gaps"`
	Root      string            `json:"root" validate:"required"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// Validate checks the query against its validation rules.
func (q *Query) Validate() error {
	return traceValidate.Struct(q)
}

// EnsureDefaults populates default values for optional fields.
func (q *Query) EnsureDefaults() {
	if q.RequestID == "" {
		q.RequestID = uuid.New().String()
	}
}

// CacheKey returns a stable key identifying this query's result in the
// artifact store. Filters are folded in sorted order so equivalent
// queries share one entry.
func (q *Query) CacheKey() string {
	var sb strings.Builder
	sb.WriteString(string(q.Kind))
	sb.WriteByte('|')
	sb.WriteString(q.Root)
	if len(q.Filters) > 0 {
		keys := make([]string, 0, len(q.Filters))
		for k := range q.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteByte('|')
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(q.Filters[k])
		}
	}
	return sb.String()
}

// =============================================================================
// Typed Payloads
// =============================================================================

// FileRecord describes one file in the project inventory.
type FileRecord struct {
	// Path is relative to the project root, using forward slashes.
	Path string `json:"path"`

	// Package is the declared Go package, when known.
	Package string `json:"package,omitempty"`

	// Lines is the number of newline-terminated lines.
	Lines int `json:"lines"`

	// SizeBytes is the file size on disk.
	SizeBytes int64 `json:"size_bytes"`

	// IsTest marks _test.go files.
	IsTest bool `json:"is_test"`
}

// InventoryData is the result of an inventory scan.
type InventoryData struct {
	Root       string       `json:"root"`
	Files      []FileRecord `json:"files"`
	TotalLines int          `json:"total_lines"`
	Packages   []string     `json:"packages,omitempty"`
}

// ModuleRequirement is one entry from the module's require set.
type ModuleRequirement struct {
	Path     string `json:"path"`
	Version  string `json:"version"`
	Indirect bool   `json:"indirect,omitempty"`
}

// DependencyData is the result of a dependency query.
type DependencyData struct {
	ModulePath   string              `json:"module_path"`
	GoVersion    string              `json:"go_version,omitempty"`
	Requirements []ModuleRequirement `json:"requirements"`
}

// PatternMatch is one detected pattern occurrence.
type PatternMatch struct {
	// Name identifies the pattern (e.g. "ignored_error", "panic_call").
	Name string `json:"name"`

	// Path is the file containing the match, relative to the root.
	Path string `json:"path"`

	// Line is the 1-indexed line of the match.
	Line int `json:"line"`

	// Snippet is the matched source text, trimmed.
	Snippet string `json:"snippet,omitempty"`

	// Severity is "info" or "warning".
	Severity string `json:"severity"`
}

// PatternData is the result of a pattern detection pass.
type PatternData struct {
	Matches      []PatternMatch `json:"matches"`
	ScannedFiles int            `json:"scanned_files"`
}

// CoverageGap is one source file lacking test coverage pairing.
type CoverageGap struct {
	Path    string `json:"path"`
	Package string `json:"package,omitempty"`

	// Reason is "no_test_file" when the file has no sibling _test.go,
	// or "no_package_tests" when the whole package has none.
	Reason string `json:"reason"`
}

// CoverageData is the result of a coverage gap analysis.
type CoverageData struct {
	Gaps        []CoverageGap `json:"gaps"`
	SourceFiles int           `json:"source_files"`
	TestedFiles int           `json:"tested_files"`
}

// =============================================================================
// Data Bundle
// =============================================================================

// DataBundle is the resolved result of a logical query.
//
// # Description
//
// Exactly one payload field is populated, matching Kind. The bundle is
// annotated with the tier that produced it, when it was generated, and
// (for live results) the sidecar version, so the artifact store can judge
// staleness on later reads.
type DataBundle struct {
	// Kind matches the query kind that produced this bundle.
	Kind Kind `json:"kind"`

	// Root is the project root the bundle describes.
	Root string `json:"root"`

	// Tier names the data source that answered the query. A bundle
	// produced live and later served from the artifact store reports
	// cache.
	Tier Tier `json:"tier"`

	// GeneratedAt is when the payload was computed.
	GeneratedAt time.Time `json:"generated_at"`

	// ToolVersion is the sidecar version that produced a live bundle.
	ToolVersion string `json:"tool_version,omitempty"`

	// SourceHash fingerprints the analyzed tree at generation time.
	SourceHash string `json:"source_hash,omitempty"`

	// Degraded marks bundles produced by the fallback tier, whose
	// payloads are approximations rather than full analyses.
	Degraded bool `json:"degraded,omitempty"`

	Inventory    *InventoryData  `json:"inventory,omitempty"`
	Dependencies *DependencyData `json:"dependencies,omitempty"`
	Patterns     *PatternData    `json:"patterns,omitempty"`
	Coverage     *CoverageData   `json:"coverage,omitempty"`
}

// ItemCount returns the number of items in the populated payload.
//
// Used for telemetry and span attributes; returns 0 for an empty bundle.
func (b *DataBundle) ItemCount() int {
	switch {
	case b.Inventory != nil:
		return len(b.Inventory.Files)
	case b.Dependencies != nil:
		return len(b.Dependencies.Requirements)
	case b.Patterns != nil:
		return len(b.Patterns.Matches)
	case b.Coverage != nil:
		return len(b.Coverage.Gaps)
	}
	return 0
}

// Validate checks that exactly one payload is populated and matches Kind.
func (b *DataBundle) Validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("invalid bundle kind: %q", b.Kind)
	}

	populated := 0
	var match bool
	if b.Inventory != nil {
		populated++
		match = match || b.Kind == KindInventory
	}
	if b.Dependencies != nil {
		populated++
		match = match || b.Kind == KindDependencies
	}
	if b.Patterns != nil {
		populated++
		match = match || b.Kind == KindPatterns
	}
	if b.Coverage != nil {
		populated++
		match = match || b.Kind == KindCoverageGaps
	}

	if populated != 1 {
		return fmt.Errorf("bundle must carry exactly one payload, has %d", populated)
	}
	if !match {
		return fmt.Errorf("bundle payload does not match kind %q", b.Kind)
	}
	return nil
}
