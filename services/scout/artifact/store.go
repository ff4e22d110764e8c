// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact persists resolved data bundles in BadgerDB so the
// resolver can answer repeat queries without touching the tracer sidecar.
//
// A stored bundle is only served while it is fresh: it must carry the
// current tool version, be younger than the configured max age, and its
// source hash must still match the project tree. Anything else is a miss,
// never an error - the resolver simply moves on to the live tier.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Default configuration values.
const (
	// DefaultMaxAge is how long a stored bundle stays servable.
	DefaultMaxAge = 30 * time.Minute

	// DefaultGCInterval is how often Badger value-log GC runs.
	DefaultGCInterval = 5 * time.Minute

	// DefaultGCDiscardRatio triggers GC when this fraction of a value
	// log file is discardable.
	DefaultGCDiscardRatio = 0.5
)

// bundlePrefix namespaces bundle keys inside the Badger keyspace.
const bundlePrefix = "bundle/"

// Config holds store settings.
type Config struct {
	// Path is the directory for Badger files. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. For tests.
	InMemory bool

	// SyncWrites makes every write durable before returning.
	SyncWrites bool

	// Logger receives Badger's internal logging. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxAge is the bundle TTL. Zero disables the age check.
	MaxAge time.Duration

	// ToolVersion is the current tracer version. Bundles recorded by a
	// different version are treated as stale. Empty disables the check.
	ToolVersion string

	// VerifySourceHash re-hashes the project tree on lookup and rejects
	// bundles whose recorded hash no longer matches.
	VerifySourceHash bool

	// GCInterval controls periodic value-log GC. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is passed to Badger's RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns production settings for a persistent store.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		SyncWrites:       true,
		MaxAge:           DefaultMaxAge,
		VerifySourceHash: true,
		GCInterval:       DefaultGCInterval,
		GCDiscardRatio:   DefaultGCDiscardRatio,
	}
}

// InMemoryConfig returns settings for an ephemeral store. GC is disabled
// because in-memory Badger has no value log to compact.
func InMemoryConfig() Config {
	return Config{
		InMemory:         true,
		MaxAge:           DefaultMaxAge,
		VerifySourceHash: true,
	}
}

// =============================================================================
// Miss classification
// =============================================================================

// MissReason explains why a lookup did not return a bundle.
type MissReason string

const (
	// MissNone means the lookup hit.
	MissNone MissReason = ""

	// MissNotFound means no bundle is stored for the query.
	MissNotFound MissReason = "not_found"

	// MissUnreadable means a bundle exists but could not be decoded.
	MissUnreadable MissReason = "unreadable"

	// MissExpired means the bundle is older than the configured max age.
	MissExpired MissReason = "expired"

	// MissVersionMismatch means a different tracer version produced it.
	MissVersionMismatch MissReason = "tool_version_mismatch"

	// MissSourceChanged means the project tree changed since recording.
	MissSourceChanged MissReason = "source_changed"

	// MissHashError means the freshness check itself failed.
	MissHashError MissReason = "hash_error"
)

// =============================================================================
// Store
// =============================================================================

// Store is a Badger-backed cache of resolved data bundles.
//
// # Key Layout
//
//	bundle/<sha256(root)[:16]>/<sha256(cache key)[:32]>
//
// Grouping by hashed root lets InvalidateRoot drop every bundle for a
// project with one prefix scan.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions isolate writers; the hash
// cache carries its own lock.
type Store struct {
	db     *badger.DB
	config Config
	logger *slog.Logger
	hashes *hashCache

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open creates or opens a bundle store.
//
// Description:
//
//	Opens BadgerDB at cfg.Path (creating the directory when needed) and
//	starts the value-log GC loop when configured. Callers must Close the
//	store to release the directory lock.
//
// Inputs:
//
//	cfg - Store settings. Path is required unless InMemory is set.
//
// Outputs:
//
//	*Store - Ready-to-use store.
//	error - Non-nil if the path is missing or Badger failed to open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required for persistent mode")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:     db,
		config: cfg,
		logger: logger,
		hashes: newHashCache(),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}

	return s, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops the GC loop and releases the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// Lookup fetches the stored bundle for a query, if it is still fresh.
//
// Description:
//
//	Reads the bundle keyed by the query and runs the freshness checks in
//	cheapest-first order: tool version, age, then source hash (which may
//	walk the project tree). Every failure mode is reported as a miss
//	reason rather than an error, so callers can fall through to the next
//	tier without branching on failure types.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	query - The logical query. Root and Kind select the bundle.
//
// Outputs:
//
//	*datatypes.DataBundle - The stored bundle, or nil on a miss.
//	MissReason - MissNone on a hit, otherwise why the lookup missed.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Lookup(ctx context.Context, query datatypes.Query) (*datatypes.DataBundle, MissReason) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bundleKey(query))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		recordLookup(MissNotFound)
		return nil, MissNotFound
	}
	if err != nil {
		s.logger.Warn("bundle read failed",
			slog.String("root", query.Root),
			slog.String("kind", query.Kind.String()),
			slog.String("error", err.Error()),
		)
		recordLookup(MissUnreadable)
		return nil, MissUnreadable
	}

	var bundle datatypes.DataBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		s.logger.Warn("stored bundle is corrupt, dropping it",
			slog.String("root", query.Root),
			slog.String("kind", query.Kind.String()),
			slog.String("error", err.Error()),
		)
		// Best effort: a corrupt entry will never become readable.
		_ = s.Invalidate(ctx, query)
		recordLookup(MissUnreadable)
		return nil, MissUnreadable
	}

	if reason := s.checkFreshness(ctx, &bundle); reason != MissNone {
		s.logger.Debug("stored bundle is stale",
			slog.String("root", query.Root),
			slog.String("kind", query.Kind.String()),
			slog.String("reason", string(reason)),
		)
		recordLookup(reason)
		return nil, reason
	}

	recordLookup(MissNone)
	return &bundle, MissNone
}

// checkFreshness applies the staleness checks in cheapest-first order.
func (s *Store) checkFreshness(ctx context.Context, bundle *datatypes.DataBundle) MissReason {
	if s.config.ToolVersion != "" && bundle.ToolVersion != s.config.ToolVersion {
		return MissVersionMismatch
	}

	if s.config.MaxAge > 0 {
		if age := time.Since(bundle.GeneratedAt); age > s.config.MaxAge {
			return MissExpired
		}
	}

	if s.config.VerifySourceHash {
		// An empty recorded hash means hashing failed at write time.
		// There is nothing to compare against, so rebuild.
		if bundle.SourceHash == "" {
			return MissSourceChanged
		}
		current, _, err := s.sourceHash(ctx, bundle.Root)
		if err != nil {
			return MissHashError
		}
		if current != bundle.SourceHash {
			return MissSourceChanged
		}
	}

	return MissNone
}

// Put stores a bundle under the query's cache key.
//
// Description:
//
//	Stamps GeneratedAt, ToolVersion, and SourceHash when the caller left
//	them empty, then writes the JSON-encoded bundle. Hash computation
//	failure is logged and the bundle stored with an empty hash; a later
//	Lookup will treat it as stale rather than serve it unverified.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	query - The query that produced the bundle. Keys the entry.
//	bundle - The bundle to store. Must validate.
//
// Outputs:
//
//	error - Non-nil if the bundle is invalid or the write failed.
func (s *Store) Put(ctx context.Context, query datatypes.Query, bundle *datatypes.DataBundle) error {
	if bundle == nil {
		return errors.New("bundle must not be nil")
	}
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid bundle: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if bundle.GeneratedAt.IsZero() {
		bundle.GeneratedAt = time.Now().UTC()
	}
	if bundle.ToolVersion == "" {
		bundle.ToolVersion = s.config.ToolVersion
	}
	if bundle.SourceHash == "" {
		hash, _, err := s.sourceHash(ctx, bundle.Root)
		if err != nil {
			s.logger.Warn("source hash failed, storing bundle unhashed",
				slog.String("root", bundle.Root),
				slog.String("error", err.Error()),
			)
		} else {
			bundle.SourceHash = hash
		}
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bundleKey(query), raw)
	})
	if err != nil {
		return fmt.Errorf("storing bundle for %s: %w", query.Root, err)
	}

	recordPut()
	return nil
}

// Invalidate removes the stored bundle for one query.
func (s *Store) Invalidate(ctx context.Context, query datatypes.Query) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(bundleKey(query))
	})
	if err != nil {
		return fmt.Errorf("invalidating bundle for %s: %w", query.Root, err)
	}
	recordInvalidation(1)
	return nil
}

// InvalidateRoot removes every stored bundle for a project root and drops
// its cached source hash. Returns the number of bundles removed.
//
// Called by the file watcher when the tree changes and by operators after
// large refactors.
func (s *Store) InvalidateRoot(ctx context.Context, root string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	s.hashes.invalidate(root)

	prefix := rootKeyPrefix(root)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning bundles for %s: %w", root, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating bundles for %s: %w", root, err)
	}

	recordInvalidation(len(keys))
	s.logger.Info("invalidated cached bundles",
		slog.String("root", root),
		slog.Int("count", len(keys)),
	)
	return len(keys), nil
}

// Count returns the number of stored bundles. Useful for monitoring.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(bundlePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// sourceHash returns the cached hash for root, computing it on miss.
func (s *Store) sourceHash(ctx context.Context, root string) (string, int, error) {
	if cached, ok := s.hashes.get(root); ok {
		return cached.hash, cached.fileCount, nil
	}
	hash, count, err := ComputeSourceHash(ctx, root)
	if err != nil {
		return "", 0, err
	}
	s.hashes.set(root, hash, count)
	return hash, count, nil
}

// =============================================================================
// Keys
// =============================================================================

// bundleKey derives the Badger key for a query. Root and cache key are
// hashed so arbitrary filesystem paths and filter values cannot produce
// pathological keys.
func bundleKey(query datatypes.Query) []byte {
	rootSum := sha256.Sum256([]byte(query.Root))
	keySum := sha256.Sum256([]byte(query.CacheKey()))

	var b strings.Builder
	b.WriteString(bundlePrefix)
	b.WriteString(hex.EncodeToString(rootSum[:])[:16])
	b.WriteByte('/')
	b.WriteString(hex.EncodeToString(keySum[:])[:32])
	return []byte(b.String())
}

// rootKeyPrefix returns the key prefix shared by all bundles for a root.
func rootKeyPrefix(root string) []byte {
	rootSum := sha256.Sum256([]byte(root))
	return []byte(bundlePrefix + hex.EncodeToString(rootSum[:])[:16] + "/")
}

// =============================================================================
// Value-log GC
// =============================================================================

// runGC periodically compacts Badger's value log.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			err := s.db.RunValueLogGC(s.config.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// =============================================================================
// Badger logging adapter
// =============================================================================

// badgerLogger routes Badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf("badger: "+strings.TrimSpace(format), args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf("badger: "+strings.TrimSpace(format), args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("badger: "+strings.TrimSpace(format), args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("badger: "+strings.TrimSpace(format), args...))
}
