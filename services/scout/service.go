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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianScout/services/scout/artifact"
	"github.com/AleutianAI/AleutianScout/services/scout/config"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
	"github.com/AleutianAI/AleutianScout/services/scout/heuristic"
	"github.com/AleutianAI/AleutianScout/services/scout/resolver"
	"github.com/AleutianAI/AleutianScout/services/scout/retry"
	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
)

// Service owns the resolver stack: the sidecar supervisor, the artifact
// store, the heuristic engine, and the shared telemetry recorder.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can call any
//	combination of methods simultaneously.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	supervisor *sidecar.Supervisor
	client     *sidecar.Client
	store      *artifact.Store
	resolver   *resolver.Resolver
	recorder   *telemetry.Recorder

	// flight collapses concurrent resolves of the same query so a burst
	// of identical requests costs one tier walk.
	flight singleflight.Group

	mu       sync.Mutex
	watchers map[string]*artifact.Watcher

	watchCtx    context.Context
	watchCancel context.CancelFunc
}

// NewService creates a Service from the given configuration.
//
// Description:
//
//	Builds the full tier stack. The sidecar is not spawned here; the
//	first live-tier query (or Warm) does that. A cache directory that
//	cannot be opened disables the cache tier with a warning instead of
//	failing construction: the scout answers queries either way.
//
// Inputs:
//
//	cfg - Validated configuration (see config.Load).
//	logger - Structured logger; nil falls back to slog.Default().
//
// Outputs:
//
//	*Service - The wired service.
//	error - Non-nil if the retry section cannot build a policy.
func NewService(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = logger
	store, err := artifact.Open(storeCfg)
	if err != nil {
		logger.Warn("artifact store unavailable, cache tier disabled",
			slog.String("path", storeCfg.Path),
			slog.String("error", err.Error()))
		store = nil
	}

	policy, err := retry.NewPolicy(cfg.RetryConfig())
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("building retry policy: %w", err)
	}

	supervisor := sidecar.NewSupervisor(cfg.SidecarConfig(), logger)
	client := sidecar.NewClient(supervisor)
	recorder := telemetry.NewRecorder()

	res := resolver.New(resolver.Options{
		Store:    store,
		Live:     client,
		Engine:   heuristic.NewEngine(heuristic.WithLogger(logger)),
		Policy:   policy,
		Recorder: recorder,
		Logger:   logger,
	})

	watchCtx, watchCancel := context.WithCancel(context.Background())

	return &Service{
		cfg:         cfg,
		logger:      logger,
		supervisor:  supervisor,
		client:      client,
		store:       store,
		resolver:    res,
		recorder:    recorder,
		watchers:    make(map[string]*artifact.Watcher),
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
	}, nil
}

// Resolve answers a logical query through the tier chain.
//
// Description:
//
//	Concurrent resolves of the same kind/root/filters collapse into one
//	tier walk and share its result. Resolve never fails: the worst case
//	is a degraded fallback bundle. When cache watching is enabled, the
//	first resolve for a root also starts a file watcher that invalidates
//	stored bundles on source changes.
//
// Inputs:
//
//	ctx - Context for cancellation and deadlines.
//	query - The logical query. A missing request id is generated.
//
// Outputs:
//
//	*resolver.Result - The answer with tier provenance. Never nil.
func (s *Service) Resolve(ctx context.Context, query datatypes.Query) *resolver.Result {
	query.EnsureDefaults()

	v, _, shared := s.flight.Do(query.CacheKey(), func() (any, error) {
		return s.resolver.Resolve(ctx, query), nil
	})
	result := v.(*resolver.Result)

	if shared {
		s.logger.Debug("resolve joined in-flight query",
			slog.String("kind", string(query.Kind)),
			slog.String("root", query.Root))
	}

	if s.cfg.Cache.Watch {
		s.ensureWatcher(query.Root)
	}

	return result
}

// Warm spawns the sidecar ahead of the first query.
//
// A failed warm-up is not fatal to the service: queries still resolve
// through the remaining tiers.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.supervisor.EnsureConnected(ctx)
	return err
}

// Telemetry returns the process-wide tier summary.
func (s *Service) Telemetry() telemetry.Summary {
	return s.recorder.Summary()
}

// Recorder returns the shared telemetry recorder.
func (s *Service) Recorder() *telemetry.Recorder {
	return s.recorder
}

// SidecarUp reports whether a tracer process is currently alive.
func (s *Service) SidecarUp() bool {
	return s.supervisor.Current() != nil
}

// SidecarVersion returns the tracer version reported at handshake, or ""
// when no tracer has been spawned.
func (s *Service) SidecarVersion() string {
	return s.client.ToolVersion()
}

// CacheEnabled reports whether the artifact store opened successfully.
func (s *Service) CacheEnabled() bool {
	return s.store != nil
}

// WatchedRoots returns the number of roots with an active file watcher.
func (s *Service) WatchedRoots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// Close shuts the service down: watchers stop, the sidecar gets its
// graceful termination window, and the store closes last.
func (s *Service) Close(ctx context.Context) error {
	s.watchCancel()

	s.mu.Lock()
	for root, w := range s.watchers {
		w.Stop()
		delete(s.watchers, root)
	}
	s.mu.Unlock()

	var errs []error
	if err := s.supervisor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sidecar shutdown: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing artifact store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ensureWatcher starts a file watcher for root if one is not running.
// Watcher failures are logged and dropped: a missing watcher only means
// staler cache entries, and the freshness checks still apply on lookup.
func (s *Service) ensureWatcher(root string) {
	if s.store == nil || root == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[root]; ok {
		return
	}

	opts := artifact.DefaultWatcherOptions()
	opts.Logger = s.logger
	w, err := artifact.NewWatcher(s.store, root, &opts)
	if err != nil {
		s.logger.Warn("file watcher unavailable",
			slog.String("root", root),
			slog.String("error", err.Error()))
		return
	}
	if err := w.Start(s.watchCtx); err != nil {
		s.logger.Warn("file watcher failed to start",
			slog.String("root", root),
			slog.String("error", err.Error()))
		w.Stop()
		return
	}
	s.watchers[root] = w
}
