// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes OpenTelemetry for projectgraph.
//
// The buildhost and worker packages call otel.Tracer and otel.Meter
// directly. Init installs the providers those calls resolve to, so the
// instrumentation costs nothing until an exporter is selected.
//
// # Exporters
//
//   - none: the global no-op providers stay in place.
//   - stdout: spans and metrics are written as JSON to Config.Writer.
//   - prometheus: metrics are collected into a registry served by
//     MetricsHandler; spans are discarded.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{Exporter: "stdout"})
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
