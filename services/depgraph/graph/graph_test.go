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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/services/depgraph/extract"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

const root = "/p"

func rec(rel string) walker.FileRecord {
	return walker.FileRecord{Path: root + "/" + rel, Extension: ".ts", DisplayLabel: rel[:len(rel)-3]}
}

func ref(from, to string) extract.Reference {
	r := extract.Reference{From: root + "/" + from, RawToken: "./" + to, Kind: extract.KindImport}
	if to != "" {
		r.Resolved = root + "/" + to
	}
	return r
}

// scenario is a.ts -> b.ts -> lib/c.ts.
func scenario(t *testing.T) *Graph {
	t.Helper()
	files := []walker.FileRecord{rec("a.ts"), rec("b.ts"), rec("lib/c.ts")}
	refs := [][]extract.Reference{
		{ref("a.ts", "b.ts")},
		{ref("b.ts", "lib/c.ts"), ref("b.ts", "")},
		nil,
	}
	g, stats := Build(root, files, refs)
	require.NoError(t, g.Validate())
	assert.Equal(t, 1, stats.UnresolvedReferences)
	return g
}

func paths(recs []walker.FileRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Path
	}
	return out
}

func TestBuild_Scenario(t *testing.T) {
	g := scenario(t)

	assert.Equal(t, []string{"/p/a.ts", "/p/b.ts", "/p/lib/c.ts"}, paths(g.Nodes()))
	assert.Equal(t, []Edge{
		{From: "/p/a.ts", To: "/p/b.ts"},
		{From: "/p/b.ts", To: "/p/lib/c.ts"},
	}, g.Edges())
	assert.Equal(t, []string{"/p/lib/c.ts"}, g.Successors("/p/b.ts"))
	assert.Equal(t, []string{"/p/a.ts"}, g.Predecessors("/p/b.ts"))
	assert.Empty(t, g.Successors("/p/lib/c.ts"))
	assert.True(t, g.IsFrozen())
}

func TestBuild_Stats(t *testing.T) {
	files := []walker.FileRecord{rec("a.ts"), rec("b.ts")}
	refs := [][]extract.Reference{{
		ref("a.ts", "b.ts"),
		ref("a.ts", "b.ts"),
		ref("a.ts", "a.ts"),
		ref("a.ts", "ghost.ts"),
		ref("a.ts", ""),
	}}

	g, stats := Build(root, files, refs)
	assert.Equal(t, BuildStats{
		Nodes:                2,
		Edges:                1,
		DuplicateEdges:       1,
		SelfReferences:       1,
		UnresolvedReferences: 1,
		DanglingReferences:   1,
	}, stats)
	assert.False(t, g.HasEdge("/p/a.ts", "/p/a.ts"))
	require.NoError(t, g.Validate())
}

func TestBuild_IsolatedFilesStay(t *testing.T) {
	g, _ := Build(root, []walker.FileRecord{rec("lonely.ts")}, nil)
	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
}

func TestBuild_Idempotent(t *testing.T) {
	files, refs := randomInput(rand.New(rand.NewSource(7)), 40, 120)
	g1, s1 := Build(root, files, refs)
	g2, s2 := Build(root, files, refs)

	assert.NotSame(t, g1, g2)
	assert.True(t, g1.Equal(g2))
	assert.Equal(t, s1, s2)

	// Input order does not matter.
	reversed := make([][]extract.Reference, len(refs))
	for i := range refs {
		reversed[len(refs)-1-i] = refs[i]
	}
	g3, _ := Build(root, files, reversed)
	assert.True(t, g1.Equal(g3))
}

func TestGraph_FrozenRejectsWrites(t *testing.T) {
	g := scenario(t)
	assert.ErrorIs(t, g.AddNode(rec("d.ts")), ErrGraphFrozen)
	_, err := g.AddEdge("/p/a.ts", "/p/lib/c.ts")
	assert.ErrorIs(t, err, ErrGraphFrozen)
}

func TestGraph_AddEdgeErrors(t *testing.T) {
	g := NewGraph(root)
	require.NoError(t, g.AddNode(rec("a.ts")))
	assert.ErrorIs(t, g.AddNode(rec("a.ts")), ErrDuplicateNode)

	_, err := g.AddEdge("/p/a.ts", "/p/a.ts")
	assert.ErrorIs(t, err, ErrSelfEdge)
	_, err = g.AddEdge("/p/a.ts", "/p/x.ts")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_ValidateDetectsCorruption(t *testing.T) {
	g := NewGraph(root)
	require.NoError(t, g.AddNode(rec("a.ts")))
	require.NoError(t, g.AddNode(rec("b.ts")))
	_, err := g.AddEdge("/p/a.ts", "/p/b.ts")
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	delete(g.reverse["/p/b.ts"], "/p/a.ts")
	err = g.Validate()
	assert.ErrorIs(t, err, ErrInvariantViolated)
	assert.Contains(t, err.Error(), "missing reverse edge")
}

func TestGraph_JSONRoundTrip(t *testing.T) {
	g := scenario(t)
	b, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded Graph
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, g.Equal(&decoded))
	assert.True(t, decoded.IsFrozen())
	require.NoError(t, decoded.Validate())
}

func TestFromData_RejectsDanglingEdge(t *testing.T) {
	_, err := FromData(Data{
		Root:  root,
		Nodes: []walker.FileRecord{rec("a.ts")},
		Edges: []Edge{{From: "/p/a.ts", To: "/p/b.ts"}},
	})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_Equal(t *testing.T) {
	g := scenario(t)
	other, _ := Build(root, []walker.FileRecord{rec("a.ts"), rec("b.ts"), rec("lib/c.ts")}, [][]extract.Reference{{ref("a.ts", "b.ts")}})
	assert.False(t, g.Equal(other))
	assert.False(t, g.Equal(nil))
	assert.True(t, (*Graph)(nil).Equal(nil))
}

func randomInput(rng *rand.Rand, nodes, refsCount int) ([]walker.FileRecord, [][]extract.Reference) {
	files := make([]walker.FileRecord, nodes)
	for i := range files {
		files[i] = rec(fmt.Sprintf("f%03d.ts", i))
	}
	refs := make([][]extract.Reference, nodes)
	for i := 0; i < refsCount; i++ {
		from := rng.Intn(nodes)
		to := rng.Intn(nodes)
		refs[from] = append(refs[from], ref(fmt.Sprintf("f%03d.ts", from), fmt.Sprintf("f%03d.ts", to)))
	}
	return files, refs
}
