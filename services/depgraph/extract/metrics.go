// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

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
	tracer = otel.Tracer("depgraph.extract")
	meter  = otel.Meter("depgraph.extract")
)

var (
	extractLatency metric.Float64Histogram
	extractTotal   metric.Int64Counter
	cacheLookups   metric.Int64Counter
	referenceTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		extractLatency, err = meter.Float64Histogram(
			"depgraph_extract_duration_seconds",
			metric.WithDescription("Duration of per-file reference extraction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractTotal, err = meter.Int64Counter(
			"depgraph_extract_total",
			metric.WithDescription("Total number of files extracted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"depgraph_extract_cache_lookups_total",
			metric.WithDescription("Token cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		referenceTotal, err = meter.Int64Counter(
			"depgraph_extract_references_total",
			metric.WithDescription("References found, by resolution outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordExtractMetrics(ctx context.Context, grammar string, duration time.Duration, resolved, unresolved int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("grammar", grammar),
		attribute.Bool("success", success),
	)
	extractLatency.Record(ctx, duration.Seconds(), attrs)
	extractTotal.Add(ctx, 1, attrs)
	referenceTotal.Add(ctx, int64(resolved), metric.WithAttributes(attribute.Bool("resolved", true)))
	referenceTotal.Add(ctx, int64(unresolved), metric.WithAttributes(attribute.Bool("resolved", false)))
}

func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func startExtractSpan(ctx context.Context, path, grammar string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Extractor.Extract",
		trace.WithAttributes(
			attribute.String("extract.file", path),
			attribute.String("extract.grammar", grammar),
		),
	)
}
