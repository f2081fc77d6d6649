// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/pkg/ux"
	"github.com/AleutianAI/depgraph/services/depgraph/config"
	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// projectRoot writes a.ts -> b.ts -> lib/c.ts plus an excluded
// node_modules/x.ts.
func projectRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	for rel, content := range map[string]string{
		"a.ts":              "import { b } from './b';\n",
		"b.ts":              "import c from '../lib/c';\n",
		"lib/c.ts":          "export const c = 1;\n",
		"node_modules/x.ts": "import './a';\n",
	} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

type result struct {
	code   int
	stdout string
	stderr string
}

// runCLI runs depgraph with telemetry exporters disabled.
func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func projectArgs(root string, args ...string) []string {
	return append(args, "--root", root, "--ext", "ts", "--exclude", "node_modules", "--log-level", "error")
}

func TestFiles(t *testing.T) {
	root := projectRoot(t)

	t.Run("text", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "files")...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "a.ts\nb.ts\nlib/c.ts\n", res.stdout)
	})

	t.Run("json", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "files", "--json")...)
		require.Equal(t, 0, res.code, res.stderr)

		var out filesOutput
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
		assert.Equal(t, root, out.Root)
		assert.Equal(t, []string{".ts"}, out.Extensions)
		require.Len(t, out.Files, 3)
		assert.Equal(t, "lib/c", out.Files[2].DisplayLabel)
		assert.Empty(t, out.Warnings)
	})

	t.Run("no matching extension", func(t *testing.T) {
		res := runCLI(t, "files", "--root", root, "--ext", "py", "--log-level", "error")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, res.stdout)
	})
}

func TestGraph(t *testing.T) {
	root := projectRoot(t)

	t.Run("text", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "graph")...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "a.ts\n  → b.ts\nb.ts\n  → lib/c.ts\nlib/c.ts\n", res.stdout)
		assert.Contains(t, res.stderr, "diagnostics.files=3")
		assert.Contains(t, res.stderr, "diagnostics.edges=2")
		assert.Contains(t, res.stderr, "diagnostics.unresolved=0")
	})

	t.Run("json", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "graph", "--json")...)
		require.Equal(t, 0, res.code, res.stderr)

		var out struct {
			Seq    uint64 `json:"seq"`
			Result struct {
				Graph graph.Data `json:"graph"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
		assert.Equal(t, uint64(1), out.Seq)
		assert.Len(t, out.Result.Graph.Nodes, 3)
		assert.Equal(t, []graph.Edge{
			{From: filepath.Join(root, "a.ts"), To: filepath.Join(root, "b.ts")},
			{From: filepath.Join(root, "b.ts"), To: filepath.Join(root, "lib", "c.ts")},
		}, out.Result.Graph.Edges)
	})

	t.Run("dot", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "graph", "--format", "dot")...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.True(t, strings.HasPrefix(res.stdout, "digraph depgraph {\n"))
		assert.Contains(t, res.stdout, `"a.ts" -> "b.ts";`)
		assert.Contains(t, res.stdout, `"b.ts" -> "lib/c.ts";`)
		assert.Contains(t, res.stdout, `"lib/c.ts" [label="lib/c"];`)
	})

	t.Run("unknown format", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "graph", "--format", "svg")...)
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, `unknown format "svg"`)
	})
}

func TestNeighborhood(t *testing.T) {
	root := projectRoot(t)

	t.Run("relative focus", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "neighborhood", "lib/c.ts")...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "b.ts\n  → lib/c.ts\nlib/c.ts\n", res.stdout)
	})

	t.Run("depth zero is the whole graph", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "neighborhood", "lib/c.ts", "--depth", "0", "--json")...)
		require.Equal(t, 0, res.code, res.stderr)

		var sub graph.Subgraph
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &sub))
		assert.Len(t, sub.Nodes, 3)
		assert.Len(t, sub.Edges, 2)
	})

	t.Run("missing focus", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "neighborhood", "missing.ts")...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, res.stdout)
		assert.Contains(t, res.stderr, "WARN: missing.ts is not in the graph")
	})

	t.Run("negative depth", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "neighborhood", "a.ts", "--depth", "-1")...)
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "--depth must be non-negative")
	})

	t.Run("cached without storage", func(t *testing.T) {
		res := runCLI(t, projectArgs(root, "neighborhood", "a.ts", "--cached")...)
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "--cached requires storage.enabled")
	})
}

func TestMissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	for _, cmd := range []string{"files", "graph"} {
		t.Run(cmd, func(t *testing.T) {
			res := runCLI(t, cmd, "--root", missing, "--log-level", "error")
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, "cannot scan project")
			assert.Empty(t, res.stdout)
		})
	}
}

func TestConfigFile(t *testing.T) {
	root := projectRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".depgraph.yaml"),
		[]byte("extensions: [ts]\nexcludes: [node_modules, lib]\nlog:\n  level: error\n"), 0644))

	res := runCLI(t, "files", "--root", root)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "a.ts\nb.ts\n", res.stdout)

	res = runCLI(t, "files", "--root", root, "--exclude", "node_modules")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "a.ts\nb.ts\nlib/c.ts\n", res.stdout, "flags override the file")
}

func TestInit(t *testing.T) {
	root := t.TempDir()

	res := runCLI(t, "init", "--root", root, "--ext", "go", "--log-level", "error")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "wrote")

	cfg, err := config.Load(filepath.Join(root, ".depgraph.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, cfg.Extensions)
	assert.Empty(t, cfg.Root)
	assert.Equal(t, filepath.Join(root, ".depgraph", "db"), cfg.Storage.Path)

	res = runCLI(t, "init", "--root", root, "--log-level", "error")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "already exists")

	res = runCLI(t, "init", "--root", root, "--format", "toml", "--force", "--log-level", "error")
	require.Equal(t, 0, res.code, res.stderr)
	_, err = config.Load(filepath.Join(root, ".depgraph.toml"))
	require.NoError(t, err)

	res = runCLI(t, "init", "--root", root, "--format", "ini", "--force", "--log-level", "error")
	assert.Equal(t, 1, res.code)
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "version", "--log-level", "error")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "depgraph dev (none)\n", res.stdout)

	res = runCLI(t, "version", "--json", "--log-level", "error")
	require.Equal(t, 0, res.code, res.stderr)
	var out versionOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "dev", out.Version)
	assert.NotEmpty(t, out.Go)
}

func TestRelPath(t *testing.T) {
	root := filepath.FromSlash("/p")
	assert.Equal(t, "a/b.ts", relPath(root, filepath.FromSlash("/p/a/b.ts")))
	assert.Equal(t, "/q/c.ts", relPath(root, filepath.FromSlash("/q/c.ts")))
}

func TestDiagnosticRows(t *testing.T) {
	sum := diag.Summarize([]diag.Warning{
		{Kind: diag.KindUnresolvedReference, Path: "/p/a.ts", Token: "./x"},
	})

	rows := diagnosticRows(3, -1, sum, -1)
	require.Len(t, rows, 1+len(diag.Kinds))
	assert.Equal(t, ux.Row{Label: "Files", Value: "3"}, rows[0])
	assert.Equal(t, ux.Row{Label: "Unresolved", Value: "1", Warn: true}, rows[2])
	assert.False(t, rows[1].Warn)

	rows = diagnosticRows(3, 2, sum, 1500*time.Millisecond)
	assert.Equal(t, "2", rows[1].Value)
	assert.Equal(t, ux.Row{Label: "Took", Value: "1.5s"}, rows[len(rows)-1])
}

func TestWriteDOTFocus(t *testing.T) {
	nodes := []walker.FileRecord{
		{Path: "/p/a.ts", DisplayLabel: "a.ts"},
		{Path: "/p/b.ts", DisplayLabel: "b.ts"},
	}
	var buf bytes.Buffer
	writeDOT(&buf, "/p", "/p/b.ts", nodes, []graph.Edge{{From: "/p/a.ts", To: "/p/b.ts"}})
	assert.Contains(t, buf.String(), `"b.ts" [label="b.ts", style=bold];`)
	assert.Contains(t, buf.String(), `"a.ts" [label="a.ts"];`)
}

func TestWatchSupervisorKeepsNewestSettings(t *testing.T) {
	sup := newWatchSupervisor(nil, time.Millisecond, nil)
	for _, root := range []string{"/one", "/two", "/three"} {
		sup.onPublish(&pipeline.Snapshot{Settings: pipeline.Settings{Root: root}})
	}
	require.Len(t, sup.updates, 1)
	assert.Equal(t, "/three", (<-sup.updates).Root)
}
