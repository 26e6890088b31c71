// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buildhost

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("projectgraph.buildhost")
	meter  = otel.Meter("projectgraph.buildhost")
)

// Metrics for engine operations.
var (
	rpcLatency      metric.Float64Histogram
	rpcTotal        metric.Int64Counter
	engineSpawns    metric.Int64Counter
	engineEvictions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		rpcLatency, err = meter.Float64Histogram(
			"projectgraph_engine_rpc_duration_seconds",
			metric.WithDescription("Duration of build engine RPC calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rpcTotal, err = meter.Int64Counter(
			"projectgraph_engine_rpc_total",
			metric.WithDescription("Total number of build engine RPC calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		engineSpawns, err = meter.Int64Counter(
			"projectgraph_engine_spawns_total",
			metric.WithDescription("Total number of build engine spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		engineEvictions, err = meter.Int64Counter(
			"projectgraph_engine_evictions_total",
			metric.WithDescription("Total number of build engines removed from the pool"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRPCSpan creates a span for an engine RPC call.
func startRPCSpan(ctx context.Context, method string, variant EngineVariant, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+method,
		trace.WithAttributes(
			attribute.String("engine.method", method),
			attribute.String("engine.variant", variant.String()),
			attribute.String("engine.project_path", path),
		),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordRPC records metrics for one engine RPC call.
func recordRPC(ctx context.Context, method string, variant EngineVariant, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("variant", variant.String()),
		attribute.Bool("success", success),
	)
	rpcLatency.Record(ctx, duration.Seconds(), attrs)
	rpcTotal.Add(ctx, 1, attrs)
}

// recordSpawn records an engine spawn attempt.
func recordSpawn(ctx context.Context, variant EngineVariant, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	engineSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant.String()),
		attribute.Bool("success", success),
	))
}

// recordEviction records an engine leaving the pool.
func recordEviction(ctx context.Context, variant EngineVariant, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	engineEvictions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant.String()),
		attribute.String("reason", reason),
	))
}
