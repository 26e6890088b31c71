// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unrecognized exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Exporter selects the backend: "none", "stdout" or "prometheus".
	Exporter string

	// Writer receives stdout exporter output. Nil means os.Stderr so
	// command output on stdout stays clean.
	Writer io.Writer

	// MetricInterval is the stdout metric export period. Zero means
	// the SDK default.
	MetricInterval time.Duration
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "projectgraph",
		ServiceVersion: "dev",
		Exporter:       ExporterNone,
	}
}

// Init installs the global tracer and meter providers.
//
// Description:
//
//	Builds the providers selected by cfg.Exporter and registers them with
//	otel. After Init returns, otel.Tracer and otel.Meter calls throughout
//	the process report to the selected backend.
//
// Inputs:
//
//	ctx - Context for initialization. Must not be nil.
//	cfg - Telemetry configuration.
//
// Outputs:
//
//	shutdown - Flushes and stops every provider. Must be called.
//	error - ErrNilContext, ErrUnknownExporter or an exporter failure.
//
// Thread Safety: Call once at process startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if cfg.Exporter == "" {
		cfg.Exporter = ExporterNone
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.Exporter {
	case ExporterNone:
		return shutdown, nil

	case ExporterStdout:
		spans, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(spans),
			trace.WithResource(res),
			trace.WithSampler(trace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

		metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		var readerOpts []metric.PeriodicReaderOption
		if cfg.MetricInterval > 0 {
			readerOpts = append(readerOpts, metric.WithInterval(cfg.MetricInterval))
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(metrics, readerOpts...)),
		)
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		return shutdown, nil

	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		)
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

		// The default gatherer carries the promauto counters registered
		// by the config package.
		gatherers := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
		prometheusHandlerMu.Lock()
		prometheusHandler = promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
		prometheusHandlerMu.Unlock()
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
			prometheusHandlerMu.Lock()
			prometheusHandler = nil
			prometheusHandlerMu.Unlock()
			return nil
		})
		return shutdown, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
}

var (
	prometheusHandler   http.Handler
	prometheusHandlerMu sync.RWMutex
)

// MetricsHandler returns the /metrics handler, or nil unless the
// prometheus exporter is active.
//
// Thread Safety: Safe for concurrent use.
func MetricsHandler() http.Handler {
	prometheusHandlerMu.RLock()
	defer prometheusHandlerMu.RUnlock()
	return prometheusHandler
}

// Serve exposes MetricsHandler on addr until ctx is done.
//
// Description:
//
//	Listens on addr and serves /metrics in a background goroutine. The
//	server is shut down when ctx is cancelled or the returned function
//	is called.
//
// Outputs:
//
//	net.Addr - The bound address, useful when addr ends in ":0".
//	func(context.Context) error - Stops the server.
//	error - No metrics handler is installed, or the listen failed.
func Serve(ctx context.Context, addr string) (net.Addr, func(context.Context) error, error) {
	handler := MetricsHandler()
	if handler == nil {
		return nil, nil, fmt.Errorf("telemetry: prometheus exporter is not active")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() { _ = srv.Serve(ln) }()

	stop := context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})
	return ln.Addr(), func(shutdownCtx context.Context) error {
		stop()
		err := srv.Shutdown(shutdownCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, nil
}
