// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("depgraph.pipeline")

// Rebuild outcomes.
const (
	outcomePublished  = "published"
	outcomeUnchanged  = "unchanged"
	outcomeSuperseded = "superseded"
	outcomeFailed     = "failed"
)

var (
	// rebuildTotal counts rebuild requests by outcome.
	rebuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depgraph_rebuild_total",
		Help: "Total rebuild requests by outcome",
	}, []string{"outcome"})

	// rebuildDuration tracks rebuild latency by outcome.
	rebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depgraph_rebuild_duration_seconds",
		Help:    "Rebuild duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"outcome"})

	// publishedSeq is the sequence number of the visible snapshot.
	publishedSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depgraph_published_sequence",
		Help: "Sequence number of the most recently published snapshot",
	})
)

func startPipelineSpan(ctx context.Context, name, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("pipeline.root", root)),
	)
}
