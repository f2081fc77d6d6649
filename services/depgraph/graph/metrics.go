// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

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
	tracer = otel.Tracer("depgraph.graph")
	meter  = otel.Meter("depgraph.graph")
)

var (
	buildLatency   metric.Float64Histogram
	buildTotal     metric.Int64Counter
	graphNodes     metric.Int64Histogram
	graphEdges     metric.Int64Histogram
	droppedRefs    metric.Int64Counter
	projectLatency metric.Float64Histogram
	projectTotal   metric.Int64Counter
	projectNodes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"depgraph_build_duration_seconds",
			metric.WithDescription("Duration of graph builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"depgraph_build_total",
			metric.WithDescription("Total number of graph builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphNodes, err = meter.Int64Histogram(
			"depgraph_graph_nodes",
			metric.WithDescription("Nodes per built graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphEdges, err = meter.Int64Histogram(
			"depgraph_graph_edges",
			metric.WithDescription("Edges per built graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedRefs, err = meter.Int64Counter(
			"depgraph_build_dropped_references_total",
			metric.WithDescription("References not turned into edges, by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		projectLatency, err = meter.Float64Histogram(
			"depgraph_project_duration_seconds",
			metric.WithDescription("Duration of neighborhood projections"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		projectTotal, err = meter.Int64Counter(
			"depgraph_project_total",
			metric.WithDescription("Total number of neighborhood projections"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		projectNodes, err = meter.Int64Histogram(
			"depgraph_project_nodes",
			metric.WithDescription("Nodes per projected neighborhood"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, duration time.Duration, stats BuildStats) {
	if err := initMetrics(); err != nil {
		return
	}

	buildLatency.Record(ctx, duration.Seconds())
	buildTotal.Add(ctx, 1)
	graphNodes.Record(ctx, int64(stats.Nodes))
	graphEdges.Record(ctx, int64(stats.Edges))
	for reason, n := range map[string]int{
		"duplicate":  stats.DuplicateEdges,
		"self":       stats.SelfReferences,
		"unresolved": stats.UnresolvedReferences,
		"dangling":   stats.DanglingReferences,
	} {
		if n > 0 {
			droppedRefs.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
		}
	}
}

func recordProjectMetrics(ctx context.Context, duration time.Duration, nodes int, found bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("found", found))
	projectLatency.Record(ctx, duration.Seconds(), attrs)
	projectTotal.Add(ctx, 1, attrs)
	projectNodes.Record(ctx, int64(nodes))
}

func startBuildSpan(ctx context.Context, root string, files int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder.Build",
		trace.WithAttributes(
			attribute.String("build.root", root),
			attribute.Int("build.files", files),
		),
	)
}

func startProjectSpan(ctx context.Context, focus string, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Project",
		trace.WithAttributes(
			attribute.String("project.focus", focus),
			attribute.Int("project.depth", depth),
		),
	)
}
