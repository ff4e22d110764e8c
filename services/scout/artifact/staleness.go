// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_artifact_lookups_total",
		Help: "Bundle lookups by result (hit or miss reason)",
	}, []string{"result"})

	putsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scout_artifact_puts_total",
		Help: "Bundles written to the store",
	})

	invalidatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scout_artifact_invalidated_bundles_total",
		Help: "Bundles removed by invalidation",
	})

	sourceHashDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scout_artifact_source_hash_duration_seconds",
		Help:    "Time spent computing source hashes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	sourceHashFileCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scout_artifact_source_hash_file_count",
		Help:    "Files included per source hash",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
	})
)

func recordLookup(reason MissReason) {
	result := "hit"
	if reason != MissNone {
		result = string(reason)
	}
	lookupsTotal.WithLabelValues(result).Inc()
}

func recordPut() {
	putsTotal.Inc()
}

func recordInvalidation(count int) {
	invalidatedTotal.Add(float64(count))
}

// =============================================================================
// Source hashing
// =============================================================================

// maxHashFiles aborts hashing when a root holds more files than any sane
// project would. Usually means the caller pointed at a home directory.
const maxHashFiles = 100000

// DefaultSourceExtensions are the file extensions included in the source
// hash. Module files are matched by name instead, see sourceFileNames.
var DefaultSourceExtensions = map[string]bool{
	".go": true,
}

// sourceFileNames are extension-less files whose changes must invalidate
// dependency bundles.
var sourceFileNames = map[string]bool{
	"go.mod": true,
	"go.sum": true,
}

// SkipDirectories are directory names excluded from hashing and watching.
var SkipDirectories = map[string]bool{
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

// isSourceFile reports whether a path participates in the source hash.
func isSourceFile(path string, extensions map[string]bool) bool {
	if sourceFileNames[filepath.Base(path)] {
		return true
	}
	return extensions[filepath.Ext(path)]
}

// ComputeSourceHash fingerprints the source tree under root.
//
// Description:
//
//	Walks the tree and hashes (relative path, mtime, size) for every
//	source file, sorted by path so the result is deterministic. Content
//	is never read; mtime and size changes are enough to catch edits.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	root - Absolute path to the project root.
//
// Outputs:
//
//	string - Hex-encoded SHA256 (64 chars).
//	int - Number of files included.
//	error - Non-nil if the walk failed or was cancelled.
//
// Thread Safety: Safe for concurrent use.
//
// Limitations:
//
//   - Symlinks are skipped to avoid cycles.
//   - Fails above 100K files, which indicates a wrong root.
func ComputeSourceHash(ctx context.Context, root string) (string, int, error) {
	return ComputeSourceHashWithExtensions(ctx, root, nil)
}

// ComputeSourceHashWithExtensions hashes with a custom extension set.
// A nil set means DefaultSourceExtensions.
func ComputeSourceHashWithExtensions(ctx context.Context, root string, extensions map[string]bool) (string, int, error) {
	if extensions == nil {
		extensions = DefaultSourceExtensions
	}

	start := time.Now()

	type fileStamp struct {
		relPath string
		mtime   int64
		size    int64
	}
	var files []fileStamp

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Unreadable subtrees are skipped, not fatal: a permission
			// hole should not block freshness checks for the rest.
			return nil
		}
		if d.IsDir() {
			if SkipDirectories[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !isSourceFile(path, extensions) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if len(files) >= maxHashFiles {
			return fmt.Errorf("too many source files (>%d), aborting hash", maxHashFiles)
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		files = append(files, fileStamp{
			relPath: relPath,
			mtime:   info.ModTime().UnixNano(),
			size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("walking source files in %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].relPath < files[j].relPath
	})

	hasher := sha256.New()
	for _, f := range files {
		fmt.Fprintf(hasher, "%s:%d:%d\n", f.relPath, f.mtime, f.size)
	}

	sourceHashDuration.Observe(time.Since(start).Seconds())
	sourceHashFileCount.Observe(float64(len(files)))

	return hex.EncodeToString(hasher.Sum(nil)), len(files), nil
}

// =============================================================================
// Hash cache
// =============================================================================

// defaultHashTTL bounds how long a computed hash is reused before the
// tree is walked again.
const defaultHashTTL = 30 * time.Second

// hashCache memoizes source hashes per root so repeated lookups against
// an unchanged tree do not re-walk it. The file watcher invalidates
// entries the moment a change lands, so the TTL only covers roots
// without a watcher attached.
type hashCache struct {
	mu     sync.RWMutex
	hashes map[string]cachedHash
	ttl    time.Duration
}

type cachedHash struct {
	hash       string
	fileCount  int
	computedAt time.Time
}

func newHashCache() *hashCache {
	return &hashCache{
		hashes: make(map[string]cachedHash),
		ttl:    defaultHashTTL,
	}
}

func (c *hashCache) get(root string) (cachedHash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.hashes[root]
	if !ok {
		return cachedHash{}, false
	}
	if time.Since(cached.computedAt) > c.ttl {
		return cachedHash{}, false
	}
	return cached, true
}

func (c *hashCache) set(root, hash string, fileCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[root] = cachedHash{
		hash:       hash,
		fileCount:  fileCount,
		computedAt: time.Now(),
	}
}

func (c *hashCache) invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, root)
}
