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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// Package-level tracer and meter for the resolver.
var (
	tracer = otel.Tracer("aleutian.scout.resolver")
	meter  = otel.Meter("aleutian.scout.resolver")
)

var (
	resolveLatency metric.Float64Histogram
	resolveTotal   metric.Int64Counter
	liveAttempts   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics lazily creates the metric instruments.
func initMetrics() error {
	metricsOnce.Do(func() {
		resolveLatency, metricsErr = meter.Float64Histogram(
			"resolver_resolve_duration_seconds",
			metric.WithDescription("Resolve latency by kind and answering tier"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}

		resolveTotal, metricsErr = meter.Int64Counter(
			"resolver_resolves_total",
			metric.WithDescription("Resolves by kind and answering tier"),
		)
		if metricsErr != nil {
			return
		}

		liveAttempts, metricsErr = meter.Int64Histogram(
			"resolver_live_attempts",
			metric.WithDescription("Sidecar attempts per live-tier consultation"),
		)
	})
	return metricsErr
}

// startResolveSpan opens a span for one resolve.
func startResolveSpan(ctx context.Context, query datatypes.Query) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(
			attribute.String("scout.kind", query.Kind.String()),
			attribute.String("scout.root", query.Root),
		),
	)
}

// setResolveSpanResult annotates the span with the answering tier.
func setResolveSpanResult(span trace.Span, tier datatypes.Tier, attempts int) {
	span.SetAttributes(
		attribute.String("scout.tier", tier.String()),
		attribute.Int("scout.live_attempts", attempts),
	)
}

// recordResolve records metrics for a completed resolve.
func recordResolve(ctx context.Context, query datatypes.Query, tier datatypes.Tier, duration time.Duration, attempts int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", query.Kind.String()),
		attribute.String("tier", tier.String()),
	)
	resolveLatency.Record(ctx, duration.Seconds(), attrs)
	resolveTotal.Add(ctx, 1, attrs)
	if attempts > 0 {
		liveAttempts.Record(ctx, int64(attempts),
			metric.WithAttributes(attribute.String("kind", query.Kind.String())))
	}
}
