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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

func scanTree(t *testing.T, files map[string]string, exts ...string) *walker.Result {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	res, err := walker.New().Walk(context.Background(), root, filter.New(root, exts, []string{"node_modules"}))
	require.NoError(t, err)
	return res
}

func lookup(t *testing.T, res *walker.Result, rel string) walker.FileRecord {
	t.Helper()
	rec, ok := res.Lookup(filepath.Join(res.Root, filepath.FromSlash(rel)))
	require.True(t, ok, rel)
	return rec
}

func resolvedTargets(refs []Reference) []string {
	var out []string
	for _, r := range refs {
		if r.IsResolved() {
			out = append(out, r.Resolved)
		}
	}
	return out
}

func TestExtractor_ConcreteScenario(t *testing.T) {
	res := scanTree(t, map[string]string{
		"a.ts":              "import { b } from './b';\n",
		"b.ts":              "import { c } from '../lib/c';\nimport { gone } from './missing';\n",
		"lib/c.ts":          "export const c = 1;\n",
		"node_modules/x.ts": "export {}\n",
	}, ".ts")

	for _, mode := range []Mode{ModeAuto, ModeLexical} {
		t.Run(string(mode), func(t *testing.T) {
			e := NewExtractor(res, WithMode(mode), WithResolveOptions(DefaultResolveOptions([]string{".ts"})))

			refs, warns := e.Extract(context.Background(), lookup(t, res, "a.ts"))
			assert.Equal(t, []string{filepath.Join(res.Root, "b.ts")}, resolvedTargets(refs))
			assert.Empty(t, warns)

			refs, warns = e.Extract(context.Background(), lookup(t, res, "b.ts"))
			assert.Equal(t, []string{filepath.Join(res.Root, "lib", "c.ts")}, resolvedTargets(refs))
			require.Len(t, warns, 1)
			assert.Equal(t, diag.KindUnresolvedReference, warns[0].Kind)
			assert.Equal(t, "./missing", warns[0].Token)

			refs, warns = e.Extract(context.Background(), lookup(t, res, "lib/c.ts"))
			assert.Empty(t, refs)
			assert.Empty(t, warns)
		})
	}
}

func TestExtractor_SelfReferenceDropped(t *testing.T) {
	res := scanTree(t, map[string]string{
		"a.ts": "import './a';\nimport x from './a.ts';\n",
	}, ".ts")

	refs, warns := NewExtractor(res).Extract(context.Background(), lookup(t, res, "a.ts"))
	assert.Empty(t, refs)
	assert.Empty(t, warns)
}

func TestExtractor_BarePackagesKeptWithoutWarning(t *testing.T) {
	res := scanTree(t, map[string]string{
		"a.js": "const React = require('react');\n",
	}, ".js")

	refs, warns := NewExtractor(res).Extract(context.Background(), lookup(t, res, "a.js"))
	require.Len(t, refs, 1)
	assert.False(t, refs[0].IsResolved())
	assert.Equal(t, "react", refs[0].RawToken)
	assert.Equal(t, KindRequire, refs[0].Kind)
	assert.Empty(t, warns)
}

func TestExtractor_InvalidUTF8(t *testing.T) {
	res := scanTree(t, map[string]string{
		"bad.js": "import './x';\n\xff\xfe\n",
	}, ".js")

	refs, warns := NewExtractor(res).Extract(context.Background(), lookup(t, res, "bad.js"))
	assert.Empty(t, refs)
	require.Len(t, warns, 1)
	assert.Equal(t, diag.KindFileAccess, warns[0].Kind)
	assert.ErrorIs(t, warns[0], ErrInvalidContent)
}

func TestExtractor_UnreadableFile(t *testing.T) {
	res := scanTree(t, map[string]string{"a.ts": ""}, ".ts")
	rec := lookup(t, res, "a.ts")
	require.NoError(t, os.Remove(rec.Path))

	refs, warns := NewExtractor(res).Extract(context.Background(), rec)
	assert.Empty(t, refs)
	require.Len(t, warns, 1)
	assert.Equal(t, diag.KindFileAccess, warns[0].Kind)
	assert.ErrorIs(t, warns[0], os.ErrNotExist)
}

func TestExtractor_GoModuleExpansion(t *testing.T) {
	res := scanTree(t, map[string]string{
		"go.mod":           "module example.com/app\n\ngo 1.22\n",
		"main.go":          "package main\n\nimport (\n\t\"fmt\"\n\t\"example.com/app/store\"\n)\n\nfunc main() { fmt.Println(store.X) }\n",
		"store/store.go":   "package store\n\nconst X = 1\n",
		"store/helpers.go": "package store\n",
		"store/x_test.go":  "package store\n",
	}, ".go")

	refs, warns := NewExtractor(res).Extract(context.Background(), lookup(t, res, "main.go"))
	assert.Empty(t, warns)
	assert.Equal(t, []string{
		filepath.Join(res.Root, "store", "helpers.go"),
		filepath.Join(res.Root, "store", "store.go"),
	}, resolvedTargets(refs))
}

func TestExtractor_PythonPackages(t *testing.T) {
	res := scanTree(t, map[string]string{
		"app/__init__.py": "",
		"app/main.py":     "from .util import helper\nfrom . import models\nimport os\n",
		"app/util.py":     "",
		"app/models.py":   "",
	}, ".py")

	e := NewExtractor(res, WithResolveOptions(DefaultResolveOptions([]string{".py"})))
	refs, warns := e.Extract(context.Background(), lookup(t, res, "app/main.py"))
	assert.Empty(t, warns)
	assert.Equal(t, []string{
		filepath.Join(res.Root, "app", "util.py"),
		filepath.Join(res.Root, "app", "__init__.py"),
	}, resolvedTargets(refs))
}

func TestExtractor_UsesTokenCache(t *testing.T) {
	res := scanTree(t, map[string]string{
		"a.ts": "import './b';\n",
		"b.ts": "",
	}, ".ts")
	cache, err := NewTokenCache(16)
	require.NoError(t, err)

	e := NewExtractor(res, WithCache(cache))
	rec := lookup(t, res, "a.ts")

	refs, _ := e.Extract(context.Background(), rec)
	require.Len(t, refs, 1)
	assert.Equal(t, 1, cache.Len())

	// A cache hit must not touch the file.
	require.NoError(t, os.Remove(rec.Path))
	refs, warns := e.Extract(context.Background(), rec)
	assert.Empty(t, warns)
	require.Len(t, refs, 1)
	assert.Equal(t, filepath.Join(res.Root, "b.ts"), refs[0].Resolved)
}

func TestExtractor_CancelledReturnsNothing(t *testing.T) {
	res := scanTree(t, map[string]string{"a.ts": "import './b';\n", "b.ts": ""}, ".ts")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refs, warns := NewExtractor(res, WithMode(ModeLexical)).Extract(ctx, lookup(t, res, "a.ts"))
	assert.Nil(t, refs)
	assert.Nil(t, warns)
}
