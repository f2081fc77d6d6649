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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// GraphState represents the lifecycle state of a Graph.
type GraphState int

const (
	// GraphStateBuilding means nodes and edges may still be added.
	GraphStateBuilding GraphState = iota

	// GraphStateReadOnly means the graph is frozen.
	GraphStateReadOnly
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// Edge is a directed dependency from one file to another.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type pathSet map[string]struct{}

// Graph is a directed graph of files keyed by canonical path.
//
// Invariants:
//   - every edge endpoint is a node
//   - forward and reverse are exact transposes
//   - no duplicate edges and no self-edges
//
// Thread Safety:
//
//	Not safe for concurrent use while building. Safe for concurrent
//	reads after Freeze.
type Graph struct {
	root    string
	nodes   map[string]walker.FileRecord
	forward map[string]pathSet
	reverse map[string]pathSet
	edges   int
	state   GraphState
}

// NewGraph creates an empty graph for the project rooted at root.
func NewGraph(root string) *Graph {
	return &Graph{
		root:    root,
		nodes:   make(map[string]walker.FileRecord),
		forward: make(map[string]pathSet),
		reverse: make(map[string]pathSet),
	}
}

// Root returns the project root the graph was built for.
func (g *Graph) Root() string { return g.root }

// State returns the lifecycle state.
func (g *Graph) State() GraphState { return g.state }

// IsFrozen reports whether the graph is read-only.
func (g *Graph) IsFrozen() bool { return g.state == GraphStateReadOnly }

// Freeze makes the graph read-only. Calling it twice is a no-op.
func (g *Graph) Freeze() { g.state = GraphStateReadOnly }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return g.edges }

// AddNode adds a file as a node.
//
// Outputs:
//
//	error - ErrGraphFrozen or ErrDuplicateNode.
func (g *Graph) AddNode(rec walker.FileRecord) error {
	if g.IsFrozen() {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[rec.Path]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, rec.Path)
	}
	g.nodes[rec.Path] = rec
	return nil
}

// AddEdge inserts from -> to with set semantics.
//
// Outputs:
//
//	bool - False when the edge already existed.
//	error - ErrGraphFrozen, ErrSelfEdge or ErrNodeNotFound.
func (g *Graph) AddEdge(from, to string) (bool, error) {
	if g.IsFrozen() {
		return false, ErrGraphFrozen
	}
	if from == to {
		return false, fmt.Errorf("%w: %s", ErrSelfEdge, from)
	}
	if _, ok := g.nodes[from]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if _, ok := g.forward[from][to]; ok {
		return false, nil
	}
	addTo(g.forward, from, to)
	addTo(g.reverse, to, from)
	g.edges++
	return true, nil
}

func addTo(m map[string]pathSet, key, val string) {
	s, ok := m[key]
	if !ok {
		s = make(pathSet)
		m[key] = s
	}
	s[val] = struct{}{}
}

// HasNode reports whether path is a node.
func (g *Graph) HasNode(path string) bool {
	_, ok := g.nodes[path]
	return ok
}

// Node returns the file record for path.
func (g *Graph) Node(path string) (walker.FileRecord, bool) {
	rec, ok := g.nodes[path]
	return rec, ok
}

// HasEdge reports whether from -> to is an edge.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.forward[from][to]
	return ok
}

// Nodes returns every node sorted by path.
func (g *Graph) Nodes() []walker.FileRecord {
	out := make([]walker.FileRecord, 0, len(g.nodes))
	for _, rec := range g.nodes {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []walker.FileRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
}

// Edges returns every edge sorted by (From, To).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for from, targets := range g.forward {
		for to := range targets {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sortEdges(out)
	return out
}

// Successors returns the sorted files that path depends on.
func (g *Graph) Successors(path string) []string {
	return sortedKeys(g.forward[path])
}

// Predecessors returns the sorted files that depend on path.
func (g *Graph) Predecessors(path string) []string {
	return sortedKeys(g.reverse[path])
}

func sortedKeys(s pathSet) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}

// Validate checks every graph invariant.
//
// Outputs:
//
//	error - Nil, or an error wrapping ErrInvariantViolated that lists
//	        each violation found.
func (g *Graph) Validate() error {
	var problems []string
	count := 0
	for from, targets := range g.forward {
		if _, ok := g.nodes[from]; !ok {
			problems = append(problems, "edge source is not a node: "+from)
		}
		for to := range targets {
			count++
			if from == to {
				problems = append(problems, "self edge: "+from)
			}
			if _, ok := g.nodes[to]; !ok {
				problems = append(problems, "edge target is not a node: "+to)
			}
			if _, ok := g.reverse[to][from]; !ok {
				problems = append(problems, fmt.Sprintf("missing reverse edge: %s -> %s", from, to))
			}
		}
	}
	for to, sources := range g.reverse {
		for from := range sources {
			if _, ok := g.forward[from][to]; !ok {
				problems = append(problems, fmt.Sprintf("reverse edge without forward edge: %s -> %s", from, to))
			}
		}
	}
	if count != g.edges {
		problems = append(problems, fmt.Sprintf("edge count %d does not match %d stored edges", g.edges, count))
	}
	for path, rec := range g.nodes {
		if rec.Path != path {
			problems = append(problems, "node keyed under a different path: "+path)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvariantViolated, strings.Join(problems, "; "))
}

// Equal reports whether two graphs have the same root, nodes and edges.
func (g *Graph) Equal(other *Graph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.root != other.root || len(g.nodes) != len(other.nodes) || g.edges != other.edges {
		return false
	}
	for path, rec := range g.nodes {
		if o, ok := other.nodes[path]; !ok || o != rec {
			return false
		}
	}
	for from, targets := range g.forward {
		for to := range targets {
			if !other.HasEdge(from, to) {
				return false
			}
		}
	}
	return true
}

// Data is the serialized form of a Graph.
type Data struct {
	Root  string              `json:"root"`
	Nodes []walker.FileRecord `json:"nodes"`
	Edges []Edge              `json:"edges"`
}

// Data returns the sorted serialized form of the graph.
func (g *Graph) Data() Data {
	return Data{Root: g.root, Nodes: g.Nodes(), Edges: g.Edges()}
}

// FromData rebuilds a frozen Graph from its serialized form.
//
// Outputs:
//
//	*Graph - The frozen graph.
//	error - Non-nil when d contains duplicate nodes, self edges or edges
//	        whose endpoints are missing.
func FromData(d Data) (*Graph, error) {
	g := NewGraph(d.Root)
	for _, rec := range d.Nodes {
		if err := g.AddNode(rec); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Edges {
		if _, err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	g.Freeze()
	return g, nil
}

// MarshalJSON encodes the graph as Data.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Data())
}

// UnmarshalJSON decodes Data into g. The result is frozen.
func (g *Graph) UnmarshalJSON(b []byte) error {
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	decoded, err := FromData(d)
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}
