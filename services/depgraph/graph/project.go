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
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Subgraph is a neighborhood view derived from a Graph.
type Subgraph struct {
	// Focus is the canonical focus path, or "" for the whole graph.
	Focus string `json:"focus"`

	// Depth is the hop bound; 0 means unbounded.
	Depth int `json:"depth"`

	// Nodes are sorted by path.
	Nodes []walker.FileRecord `json:"nodes"`

	// Edges are sorted by (From, To).
	Edges []Edge `json:"edges"`
}

// Empty reports whether the subgraph has no nodes.
func (s *Subgraph) Empty() bool { return len(s.Nodes) == 0 }

// Contains reports whether path is a node of the subgraph.
func (s *Subgraph) Contains(path string) bool {
	for _, n := range s.Nodes {
		if n.Path == path {
			return true
		}
	}
	return false
}

// Project returns the neighborhood of focus within depth hops.
//
// Description:
//
//	A focus that is not a node yields an empty Subgraph. A depth of zero
//	or less yields the whole graph. Otherwise the projector walks both
//	edge directions breadth-first up to depth hops and returns the
//	subgraph induced by the visited nodes. The focus is always included.
//
// Inputs:
//
//	g - The graph. A nil graph yields an empty Subgraph.
//	focus - Absolute, or relative to the graph root. "" selects the whole
//	        graph when depth <= 0.
//	depth - Hop bound.
//
// Outputs:
//
//	*Subgraph - A new value on every call.
func Project(g *Graph, focus string, depth int) *Subgraph {
	return ProjectContext(context.Background(), g, focus, depth)
}

// ProjectContext is Project with a context for tracing.
func ProjectContext(ctx context.Context, g *Graph, focus string, depth int) *Subgraph {
	if depth < 0 {
		depth = 0
	}
	_, span := startProjectSpan(ctx, focus, depth)
	defer span.End()
	start := time.Now()

	sub := project(g, focus, depth)

	span.SetAttributes(
		attribute.Int("project.nodes", len(sub.Nodes)),
		attribute.Int("project.edges", len(sub.Edges)),
	)
	recordProjectMetrics(ctx, time.Since(start), len(sub.Nodes), !sub.Empty())
	return sub
}

func project(g *Graph, focus string, depth int) *Subgraph {
	sub := &Subgraph{Depth: depth, Nodes: []walker.FileRecord{}, Edges: []Edge{}}
	if g == nil {
		return sub
	}

	if focus == "" {
		if depth == 0 {
			sub.Nodes = g.Nodes()
			sub.Edges = g.Edges()
		}
		return sub
	}

	canonical := canonicalFocus(g.root, focus)
	sub.Focus = canonical
	if !g.HasNode(canonical) {
		return sub
	}
	if depth == 0 {
		sub.Nodes = g.Nodes()
		sub.Edges = g.Edges()
		return sub
	}

	visited := map[string]struct{}{canonical: {}}
	frontier := []string{canonical}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, n := range frontier {
			for _, adj := range [2]pathSet{g.forward[n], g.reverse[n]} {
				for m := range adj {
					if _, seen := visited[m]; seen {
						continue
					}
					visited[m] = struct{}{}
					next = append(next, m)
				}
			}
		}
		frontier = next
	}

	for path := range visited {
		sub.Nodes = append(sub.Nodes, g.nodes[path])
		for to := range g.forward[path] {
			if _, ok := visited[to]; ok {
				sub.Edges = append(sub.Edges, Edge{From: path, To: to})
			}
		}
	}
	sortRecords(sub.Nodes)
	sortEdges(sub.Edges)
	return sub
}

func canonicalFocus(root, focus string) string {
	if !filepath.IsAbs(focus) {
		focus = filepath.Join(root, focus)
	}
	return filepath.Clean(focus)
}
