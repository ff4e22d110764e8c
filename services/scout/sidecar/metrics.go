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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for sidecar operations.
var (
	tracer = otel.Tracer("aleutian.scout.sidecar")
	meter  = otel.Meter("aleutian.scout.sidecar")
)

// Metrics for sidecar operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	sidecarSpawns    metric.Int64Counter
	sidecarCrashes   metric.Int64Counter
	resultCount      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"sidecar_operation_duration_seconds",
			metric.WithDescription("Duration of sidecar operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"sidecar_operation_total",
			metric.WithDescription("Total number of sidecar operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sidecarSpawns, err = meter.Int64Counter(
			"sidecar_spawns_total",
			metric.WithDescription("Total number of sidecar process spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sidecarCrashes, err = meter.Int64Counter(
			"sidecar_crashes_total",
			metric.WithDescription("Total number of unexpected sidecar exits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"sidecar_result_count",
			metric.WithDescription("Number of items returned by sidecar operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a sidecar operation.
func startOperationSpan(ctx context.Context, operation, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+operation,
		trace.WithAttributes(
			attribute.String("sidecar.operation", operation),
			attribute.String("sidecar.root", root),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, resultCnt int, success bool) {
	span.SetAttributes(
		attribute.Int("sidecar.result_count", resultCnt),
		attribute.Bool("sidecar.success", success),
	)
}

// recordOperationMetrics records metrics for a sidecar operation.
func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success {
		resultCount.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// recordSpawn records a sidecar spawn event.
func recordSpawn(ctx context.Context, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	sidecarSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// recordCrash records an unexpected sidecar exit.
func recordCrash(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	sidecarCrashes.Add(ctx, 1)
}
