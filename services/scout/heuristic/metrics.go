// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for fallback analysis.
var (
	tracer = otel.Tracer("aleutian.scout.heuristic")
	meter  = otel.Meter("aleutian.scout.heuristic")
)

var (
	scanLatency metric.Float64Histogram
	scanTotal   metric.Int64Counter
	itemsFound  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics lazily creates the metric instruments.
func initMetrics() error {
	metricsOnce.Do(func() {
		scanLatency, metricsErr = meter.Float64Histogram(
			"heuristic_scan_duration_seconds",
			metric.WithDescription("Fallback scan latency by kind"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}

		scanTotal, metricsErr = meter.Int64Counter(
			"heuristic_scans_total",
			metric.WithDescription("Fallback scans by kind"),
		)
		if metricsErr != nil {
			return
		}

		itemsFound, metricsErr = meter.Int64Histogram(
			"heuristic_items_found",
			metric.WithDescription("Items per fallback scan"),
		)
	})
	return metricsErr
}

// startScanSpan opens a span for one fallback scan.
func startScanSpan(ctx context.Context, kind, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.Analyze",
		trace.WithAttributes(
			attribute.String("heuristic.kind", kind),
			attribute.String("heuristic.root", root),
		),
	)
}

// recordScan records metrics for a completed scan.
func recordScan(ctx context.Context, kind string, duration time.Duration, items int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	scanLatency.Record(ctx, duration.Seconds(), attrs)
	scanTotal.Add(ctx, 1, attrs)
	itemsFound.Record(ctx, int64(items), attrs)
}
