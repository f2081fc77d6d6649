// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("depgraph.walker")
	meter  = otel.Meter("depgraph.walker")
)

var (
	walkLatency  metric.Float64Histogram
	walkTotal    metric.Int64Counter
	filesFound   metric.Int64Histogram
	walkWarnings metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		walkLatency, err = meter.Float64Histogram(
			"depgraph_walk_duration_seconds",
			metric.WithDescription("Duration of project walks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		walkTotal, err = meter.Int64Counter(
			"depgraph_walk_total",
			metric.WithDescription("Total number of project walks"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesFound, err = meter.Int64Histogram(
			"depgraph_walk_files",
			metric.WithDescription("Eligible files found per walk"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		walkWarnings, err = meter.Int64Counter(
			"depgraph_walk_warnings_total",
			metric.WithDescription("Warnings raised while walking"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordWalkMetrics(ctx context.Context, duration time.Duration, files, warnings int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	walkLatency.Record(ctx, duration.Seconds(), attrs)
	walkTotal.Add(ctx, 1, attrs)
	if success {
		filesFound.Record(ctx, int64(files))
		walkWarnings.Add(ctx, int64(warnings))
	}
}

func startWalkSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Walker.Walk",
		trace.WithAttributes(attribute.String("walk.root", root)),
	)
}
