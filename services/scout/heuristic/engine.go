// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package heuristic produces approximate data bundles without the tracer
// sidecar. It is the last tier of the resolver: when the cache misses and
// the sidecar is unreachable, the engine answers from cheap filesystem
// scans instead of failing the request.
//
// Every bundle it returns is marked Degraded. The payloads are honest
// approximations - file walks, go.mod parsing, and line-oriented regex
// matching - not the AST-level analysis the sidecar performs. Callers that
// need precision must check the Degraded flag.
package heuristic

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// DefaultMaxFileSize caps how much of a single file is read. Larger files
// keep their size and path but are not line-counted or pattern-scanned.
const DefaultMaxFileSize = 10 << 20 // 10MB

// DefaultMaxFiles bounds a scan. Roots with more source files than this
// produce a truncated, still-valid inventory.
const DefaultMaxFiles = 50000

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
	"bin":          true,
	"dist":         true,
	"build":        true,
	"tmp":          true,
	".cache":       true,
}

// Engine runs the fallback analyses.
//
// # Thread Safety
//
// Safe for concurrent use. The engine holds no per-scan state.
type Engine struct {
	logger      *slog.Logger
	maxFileSize int64
	maxFiles    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxFileSize caps per-file reads.
func WithMaxFileSize(bytes int64) Option {
	return func(e *Engine) {
		e.maxFileSize = bytes
	}
}

// WithMaxFiles caps the number of files per scan.
func WithMaxFiles(n int) Option {
	return func(e *Engine) {
		e.maxFiles = n
	}
}

// NewEngine creates a fallback engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		maxFileSize: DefaultMaxFileSize,
		maxFiles:    DefaultMaxFiles,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze produces a degraded bundle for the query.
//
// Description:
//
//	Dispatches to the scanner matching the query kind. Analyze never
//	returns an error and never panics: scanner failures are logged and
//	yield an empty payload, cancellation yields whatever was collected
//	before the deadline. The result is always a valid bundle with
//	Tier=fallback and Degraded=true.
//
// Inputs:
//
//	ctx - Context for cancellation. A nil context is tolerated.
//	query - The logical query. Kind selects the scanner; an invalid
//	        kind yields an empty inventory bundle.
//
// Outputs:
//
//	*datatypes.DataBundle - Never nil.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Analyze(ctx context.Context, query datatypes.Query) *datatypes.DataBundle {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := startScanSpan(ctx, query.Kind.String(), query.Root)
	defer span.End()
	start := time.Now()

	bundle := &datatypes.DataBundle{
		Kind:        query.Kind,
		Root:        query.Root,
		Tier:        datatypes.TierFallback,
		GeneratedAt: time.Now().UTC(),
		Degraded:    true,
	}

	switch query.Kind {
	case datatypes.KindInventory:
		bundle.Inventory = e.scanInventory(ctx, query)
	case datatypes.KindDependencies:
		bundle.Dependencies = e.scanDependencies(ctx, query)
	case datatypes.KindPatterns:
		bundle.Patterns = e.scanPatterns(ctx, query)
	case datatypes.KindCoverageGaps:
		bundle.Coverage = e.scanCoverage(ctx, query)
	default:
		// An unknown kind should have been rejected upstream. Answer
		// with an empty inventory rather than nothing at all.
		e.logger.Warn("fallback asked for unknown kind, returning empty inventory",
			slog.String("kind", string(query.Kind)),
		)
		bundle.Kind = datatypes.KindInventory
		bundle.Inventory = &datatypes.InventoryData{Root: query.Root}
	}

	recordScan(ctx, query.Kind.String(), time.Since(start), bundle.ItemCount())
	return bundle
}

// sourceFile is one walked file.
type sourceFile struct {
	relPath string
	absPath string
	size    int64
	isTest  bool
}

// collectSourceFiles walks root and returns its Go files sorted by path.
//
// The walk tolerates everything: unreadable subtrees are skipped, a
// cancelled context stops early, and the file cap truncates. The returned
// slice is whatever was visible, which is exactly what a degraded answer
// should contain.
func (e *Engine) collectSourceFiles(ctx context.Context, query datatypes.Query) []sourceFile {
	prefix := query.Filters["prefix"]

	var files []sourceFile
	err := filepath.WalkDir(query.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}

		relPath, err := filepath.Rel(query.Root, path)
		if err != nil {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(relPath, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		files = append(files, sourceFile{
			relPath: relPath,
			absPath: path,
			size:    info.Size(),
			isTest:  strings.HasSuffix(relPath, "_test.go"),
		})
		if len(files) >= e.maxFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		// WalkDir only fails here if root itself is unreadable.
		e.logger.Debug("fallback walk incomplete",
			slog.String("root", query.Root),
			slog.String("error", err.Error()),
		)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].relPath < files[j].relPath
	})
	return files
}
