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
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/depgraph/services/depgraph/extract"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// BuildStats contains statistics about a build.
type BuildStats struct {
	// Nodes is the number of nodes in the graph.
	Nodes int `json:"nodes"`

	// Edges is the number of distinct edges in the graph.
	Edges int `json:"edges"`

	// DuplicateEdges counts resolved references whose edge already existed.
	DuplicateEdges int `json:"duplicate_edges"`

	// SelfReferences counts references resolved to their own file.
	SelfReferences int `json:"self_references"`

	// UnresolvedReferences counts references with no resolved target.
	UnresolvedReferences int `json:"unresolved_references"`

	// DanglingReferences counts resolved references whose source or
	// target is not a node.
	DanglingReferences int `json:"dangling_references"`
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// Builder turns a file list and its references into a Graph.
//
// Thread Safety: Build may be called concurrently; each call owns its graph.
type Builder struct {
	root   string
	logger *slog.Logger
}

// NewBuilder creates a Builder for the project rooted at root.
func NewBuilder(root string, opts ...BuilderOption) *Builder {
	b := &Builder{root: root}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Build creates a frozen Graph from files and their references.
//
// Description:
//
//	Every file becomes a node, including files with no edges. Every
//	resolved reference becomes an edge with set semantics. Self
//	references and references whose endpoints are not nodes are skipped
//	and counted. The result depends only on its inputs.
//
// Inputs:
//
//	ctx - Context for tracing.
//	files - The scanned files.
//	refs - The references of each file, in any grouping.
//
// Outputs:
//
//	*Graph - The frozen graph. Never nil.
//	BuildStats - Counters describing what was kept and skipped.
func (b *Builder) Build(ctx context.Context, files []walker.FileRecord, refs [][]extract.Reference) (*Graph, BuildStats) {
	ctx, span := startBuildSpan(ctx, b.root, len(files))
	defer span.End()
	start := time.Now()

	g := NewGraph(b.root)
	var stats BuildStats

	for _, rec := range files {
		if err := g.AddNode(rec); err != nil {
			b.logger.Debug("skipping duplicate file", slog.String("file", rec.Path))
		}
	}

	for _, fileRefs := range refs {
		for _, ref := range fileRefs {
			switch {
			case !ref.IsResolved():
				stats.UnresolvedReferences++
				continue
			case ref.Resolved == ref.From:
				stats.SelfReferences++
				continue
			}

			added, err := g.AddEdge(ref.From, ref.Resolved)
			switch {
			case errors.Is(err, ErrNodeNotFound):
				stats.DanglingReferences++
				b.logger.Debug("dropping dangling reference",
					slog.String("from", ref.From),
					slog.String("to", ref.Resolved),
				)
			case err != nil:
				b.logger.Warn("unexpected edge error", slog.String("error", err.Error()))
			case !added:
				stats.DuplicateEdges++
			}
		}
	}

	g.Freeze()
	stats.Nodes = g.NodeCount()
	stats.Edges = g.EdgeCount()

	span.SetAttributes(
		attribute.Int("build.nodes", stats.Nodes),
		attribute.Int("build.edges", stats.Edges),
		attribute.Int("build.dangling", stats.DanglingReferences),
	)
	recordBuildMetrics(ctx, time.Since(start), stats)

	b.logger.Debug("graph built",
		slog.String("root", b.root),
		slog.Int("nodes", stats.Nodes),
		slog.Int("edges", stats.Edges),
		slog.Int("duplicates", stats.DuplicateEdges),
		slog.Int("unresolved", stats.UnresolvedReferences),
	)
	return g, stats
}

// Build is NewBuilder(root).Build with a background context.
func Build(root string, files []walker.FileRecord, refs [][]extract.Reference) (*Graph, BuildStats) {
	return NewBuilder(root).Build(context.Background(), files, refs)
}
