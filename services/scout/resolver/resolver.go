// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/artifact"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
	"github.com/AleutianAI/AleutianScout/services/scout/heuristic"
	"github.com/AleutianAI/AleutianScout/services/scout/retry"
	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
)

// =============================================================================
// LIVE SOURCE
// =============================================================================

// LiveSource is the live tier: typed analysis calls answered by the
// spawned sidecar. *sidecar.Client implements it.
type LiveSource interface {
	ScanInventory(ctx context.Context, root string, filters map[string]string) (*datatypes.InventoryData, error)
	QueryDependencies(ctx context.Context, root string, filters map[string]string) (*datatypes.DependencyData, error)
	DetectPatterns(ctx context.Context, root string, filters map[string]string) (*datatypes.PatternData, error)
	CoverageGaps(ctx context.Context, root string, filters map[string]string) (*datatypes.CoverageData, error)

	// ToolVersion is the version the sidecar reported at handshake, used
	// to stamp live bundles for later staleness checks.
	ToolVersion() string
}

// =============================================================================
// RESOLVER
// =============================================================================

// Options configures a Resolver. Every field is optional; a zero Options
// yields a fallback-only resolver.
type Options struct {
	// Store is the cache tier. Nil disables it (every resolve skips
	// straight to the live tier).
	Store *artifact.Store

	// Live is the live tier. Nil disables it (resolves that miss the
	// cache answer from the fallback).
	Live LiveSource

	// Engine is the fallback tier. Nil gets a default engine.
	Engine *heuristic.Engine

	// Policy bounds live-tier retries. Nil gets retry.DefaultConfig().
	Policy *retry.Policy

	// Recorder counts tier outcomes. Nil gets a fresh Recorder; pass a
	// shared one to aggregate across resolvers.
	Recorder *telemetry.Recorder

	// Logger for tier transitions. Nil falls back to slog.Default().
	Logger *slog.Logger
}

// Resolver answers logical queries through the cache → live → fallback
// tier chain.
//
// Thread Safety:
//
//	Safe for concurrent use. Tier state lives in the store, the
//	supervisor behind the live source, and the recorder, all of which
//	are themselves concurrency-safe.
type Resolver struct {
	store    *artifact.Store
	live     LiveSource
	engine   *heuristic.Engine
	policy   *retry.Policy
	recorder *telemetry.Recorder
	logger   *slog.Logger
}

// New creates a Resolver from the given options.
func New(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scout.resolver"))

	engine := opts.Engine
	if engine == nil {
		engine = heuristic.NewEngine(heuristic.WithLogger(logger))
	}

	policy := opts.Policy
	if policy == nil {
		// The default config always validates.
		policy, _ = retry.NewPolicy(retry.DefaultConfig())
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.NewRecorder()
	}

	return &Resolver{
		store:    opts.Store,
		live:     opts.Live,
		engine:   engine,
		policy:   policy,
		recorder: recorder,
		logger:   logger,
	}
}

// Recorder returns the recorder counting this resolver's outcomes.
func (r *Resolver) Recorder() *telemetry.Recorder {
	return r.recorder
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of one Resolve.
type Result struct {
	// Bundle is the answer. Never nil: the fallback tier cannot decline.
	Bundle *datatypes.DataBundle `json:"bundle"`

	// Attempts is how many sidecar attempts the live tier made; 0 when
	// the cache answered or the live tier was not configured.
	Attempts int `json:"attempts"`

	// CacheMiss is why the cache tier declined. Empty when the cache
	// answered or was not consulted.
	CacheMiss artifact.MissReason `json:"cache_miss,omitempty"`

	// LiveError is the last live-tier error. Empty when the live tier
	// answered or was not consulted.
	LiveError string `json:"live_error,omitempty"`

	// Duration is the total resolve time including retries and backoff.
	Duration time.Duration `json:"duration"`
}

// Tier returns the tier that answered.
func (res *Result) Tier() datatypes.Tier {
	return res.Bundle.Tier
}

// =============================================================================
// RESOLVE
// =============================================================================

// Resolve answers a logical query from the first tier able to serve it.
//
// Description:
//
//	Consults the cache, then the live sidecar behind the retry policy,
//	then the local heuristic fallback. Tier failures degrade the answer,
//	never the call: Resolve does not return an error, and the returned
//	Result always carries a bundle. A cache miss of any flavor is a
//	normal transition, not a failure; an answer produced live is written
//	back to the cache best effort.
//
// Inputs:
//
//	ctx - Context for cancellation. Nil falls back to Background; a
//	      cancelled context skips to the fallback tier, which still
//	      answers (possibly with an empty payload).
//	query - The logical query. An invalid query is answered by the
//	        fallback with an honest empty substitute.
//
// Outputs:
//
//	*Result - The bundle plus how it was obtained. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, query datatypes.Query) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	query.EnsureDefaults()

	ctx, span := startResolveSpan(ctx, query)
	defer span.End()
	start := time.Now()

	res := r.resolve(ctx, query)

	res.Duration = time.Since(start)
	setResolveSpanResult(span, res.Bundle.Tier, res.Attempts)
	recordResolve(ctx, query, res.Bundle.Tier, res.Duration, res.Attempts)
	return res
}

// resolve walks the tier chain. Exactly one success is recorded per call,
// so the recorder's per-tier served counts sum to the number of resolves.
func (r *Resolver) resolve(ctx context.Context, query datatypes.Query) *Result {
	res := &Result{}

	if err := query.Validate(); err != nil {
		// Unanswerable queries still get an answer.
		r.logger.Warn("query failed validation, answering from fallback",
			slog.String("kind", query.Kind.String()),
			slog.String("error", err.Error()),
		)
		res.Bundle = r.engine.Analyze(ctx, query)
		r.recorder.Record(&query, datatypes.TierFallback, true)
		return res
	}

	if r.store != nil {
		bundle, miss := r.store.Lookup(ctx, query)
		if miss == artifact.MissNone {
			// The stored copy keeps the tier that produced it; the
			// served copy reports the tier that answered.
			bundle.Tier = datatypes.TierCache
			res.Bundle = bundle
			r.recorder.Record(&query, datatypes.TierCache, true)
			return res
		}
		res.CacheMiss = miss
	}

	if r.live != nil {
		bundle, attempts, err := r.fetchLive(ctx, query)
		res.Attempts = attempts
		if err == nil {
			res.Bundle = bundle
			r.recorder.Record(&query, datatypes.TierLive, true)
			r.writeThrough(ctx, query, bundle)
			return res
		}
		res.LiveError = err.Error()
		r.recorder.Record(&query, datatypes.TierLive, false)
		r.logger.Warn("live tier failed, answering from fallback",
			slog.String("kind", query.Kind.String()),
			slog.String("root", query.Root),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
	}

	res.Bundle = r.engine.Analyze(ctx, query)
	r.recorder.Record(&query, datatypes.TierFallback, true)
	return res
}

// fetchLive runs one live consultation under the retry policy.
func (r *Resolver) fetchLive(ctx context.Context, query datatypes.Query) (*datatypes.DataBundle, int, error) {
	var bundle *datatypes.DataBundle

	result, err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		b, callErr := r.callLive(ctx, query)
		if callErr != nil {
			return callErr
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, result.Attempts, err
	}
	return bundle, result.Attempts, nil
}

// callLive performs a single sidecar call for the query's kind.
func (r *Resolver) callLive(ctx context.Context, query datatypes.Query) (*datatypes.DataBundle, error) {
	bundle := &datatypes.DataBundle{
		Kind:        query.Kind,
		Root:        query.Root,
		Tier:        datatypes.TierLive,
		GeneratedAt: time.Now().UTC(),
	}

	switch query.Kind {
	case datatypes.KindInventory:
		data, err := r.live.ScanInventory(ctx, query.Root, query.Filters)
		if err != nil {
			return nil, err
		}
		bundle.Inventory = data
	case datatypes.KindDependencies:
		data, err := r.live.QueryDependencies(ctx, query.Root, query.Filters)
		if err != nil {
			return nil, err
		}
		bundle.Dependencies = data
	case datatypes.KindPatterns:
		data, err := r.live.DetectPatterns(ctx, query.Root, query.Filters)
		if err != nil {
			return nil, err
		}
		bundle.Patterns = data
	case datatypes.KindCoverageGaps:
		data, err := r.live.CoverageGaps(ctx, query.Root, query.Filters)
		if err != nil {
			return nil, err
		}
		bundle.Coverage = data
	default:
		// Validate() upstream makes this unreachable; terminal on
		// principle (retrying cannot invent a method).
		return nil, fmt.Errorf("no live method for kind %q", query.Kind)
	}

	// The handshake has happened by now, so the version is known.
	bundle.ToolVersion = r.live.ToolVersion()
	return bundle, nil
}

// writeThrough refreshes the cache with a live bundle, best effort.
func (r *Resolver) writeThrough(ctx context.Context, query datatypes.Query, bundle *datatypes.DataBundle) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, query, bundle); err != nil {
		r.logger.Warn("cache write-through failed",
			slog.String("kind", query.Kind.String()),
			slog.String("root", query.Root),
			slog.String("error", err.Error()),
		)
	}
}
