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
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/filter"
)

// writeTree creates files (relative path -> content) under a new temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func relPaths(root string, res *Result) []string {
	out := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		rel, _ := filepath.Rel(root, f.Path)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestWalk_ConcreteScenario(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.ts":              "import './b'",
		"b.ts":              "import '../lib/c'",
		"lib/c.ts":          "",
		"node_modules/x.ts": "",
	})
	f := filter.New(root, []string{".ts"}, []string{"node_modules"})

	res, err := New().Walk(context.Background(), root, f)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts", "b.ts", "lib/c.ts"}, relPaths(root, res))
	assert.Empty(t, res.Warnings)

	rec, ok := res.Lookup(filepath.Join(root, "lib", "c.ts"))
	require.True(t, ok)
	assert.Equal(t, ".ts", rec.Extension)
	assert.Equal(t, "lib/c", rec.DisplayLabel)
	assert.Contains(t, res.Fingerprints, rec.Path)
}

func TestWalk_EmptyAllowListFindsNothing(t *testing.T) {
	root := writeTree(t, map[string]string{"a.ts": "", "b.js": ""})

	res, err := New().Walk(context.Background(), root, filter.New(root, nil, nil))
	require.NoError(t, err)
	assert.Empty(t, res.Files)
}

func TestWalk_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.ts")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	f := filter.New("", []string{".ts"}, nil)

	_, err := New().Walk(context.Background(), filepath.Join(dir, "missing"), f)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorIs(t, err, ErrRootNotFound)

	_, err = New().Walk(context.Background(), file, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRootNotDirectory)
	assert.Contains(t, err.Error(), "cannot scan project")
}

func TestWalk_NilArguments(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := New().Walk(nil, t.TempDir(), filter.New("", []string{".ts"}, nil))
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = New().Walk(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNilFilter)
}

func TestWalk_Cancelled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.ts": ""})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Walk(ctx, root, filter.New(root, []string{".ts"}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_FileTooLarge(t *testing.T) {
	root := writeTree(t, map[string]string{
		"small.ts": "x",
		"big.ts":   strings.Repeat("x", 64),
	})

	res, err := New(WithMaxFileSize(16)).Walk(context.Background(), root, filter.New(root, []string{".ts"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"small.ts"}, relPaths(root, res))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, diag.KindFileTooLarge, res.Warnings[0].Kind)
	assert.ErrorIs(t, res.Warnings[0], ErrFileTooLarge)
}

func TestWalk_SymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, map[string]string{"pkg/a.ts": ""})
	require.NoError(t, os.Symlink(root, filepath.Join(root, "pkg", "loop")))

	res, err := New().Walk(context.Background(), root, filter.New(root, []string{".ts"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"pkg/a.ts"}, relPaths(root, res))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, diag.KindSymlinkCycle, res.Warnings[0].Kind)
	assert.Equal(t, filepath.Join(root, "pkg", "loop"), res.Warnings[0].Path)
}

func TestWalk_SymlinkFollowedAndDisabled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, map[string]string{"real/a.ts": ""})
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))
	f := filter.New(root, []string{".ts"}, nil)

	res, err := New().Walk(context.Background(), root, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"real/a.ts"}, relPaths(root, res))
	assert.Empty(t, res.Warnings)

	res, err = New(WithFollowSymlinks(false)).Walk(context.Background(), root, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"real/a.ts"}, relPaths(root, res))
}

func TestWalk_SymlinksRecordTargetsOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, map[string]string{"a.ts": "", "lib/c.ts": "", "z.ts": ""})
	require.NoError(t, os.Symlink(filepath.Join(root, "a.ts"), filepath.Join(root, "alias.ts")))
	require.NoError(t, os.Symlink(filepath.Join(root, "lib"), filepath.Join(root, "lib2")))
	// Sorted before its target, so the target is first reached via the link.
	require.NoError(t, os.Symlink(filepath.Join(root, "z.ts"), filepath.Join(root, "0.ts")))
	require.NoError(t, os.Symlink(filepath.Join(root, "lib"), filepath.Join(root, "000")))

	res, err := New().Walk(context.Background(), root, filter.New(root, []string{".ts"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts", "lib/c.ts", "z.ts"}, relPaths(root, res))
	assert.Equal(t, "lib/c", res.Files[1].DisplayLabel)
	assert.Len(t, res.Fingerprints, 3)
	assert.Empty(t, res.Warnings)
}

func TestWalk_SymlinkIntoExcludedDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, map[string]string{"src/a.ts": "", "node_modules/x.ts": ""})
	require.NoError(t, os.Symlink(filepath.Join(root, "node_modules", "x.ts"), filepath.Join(root, "src", "x.ts")))
	require.NoError(t, os.Symlink(filepath.Join(root, "node_modules"), filepath.Join(root, "deps")))

	res, err := New().Walk(context.Background(), root, filter.New(root, []string{".ts"}, []string{"node_modules"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.ts"}, relPaths(root, res))
}

func TestWalk_SymlinkOutsideRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := writeTree(t, map[string]string{"secret.ts": ""})
	root := writeTree(t, map[string]string{"a.ts": ""})
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	res, err := New().Walk(context.Background(), root, filter.New(root, []string{".ts"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts"}, relPaths(root, res))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, diag.KindFileAccess, res.Warnings[0].Kind)
	assert.ErrorIs(t, res.Warnings[0], ErrSymlinkOutsideRoot)
}

func TestWalk_UnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	root := writeTree(t, map[string]string{"ok/a.ts": "", "locked/b.ts": ""})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	res, err := New().Walk(context.Background(), root, filter.New(root, []string{".ts"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"ok/a.ts"}, relPaths(root, res))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, diag.KindFileAccess, res.Warnings[0].Kind)
	assert.True(t, errors.Is(res.Warnings[0], fs.ErrPermission))
}

// TestWalk_SoundAndComplete generates random trees and checks the walk
// returns exactly the files the filter accepts.
func TestWalk_SoundAndComplete(t *testing.T) {
	exts := []string{".ts", ".js", ".py", ".md", ""}
	dirs := []string{"src", "lib", "node_modules", "dist", "src/nested", "vendor/pkg", "docs"}
	allowed := []string{"ts", ".py"}
	excluded := []string{"node_modules", "vendor"}

	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			files := make(map[string]string)
			for i := 0; i < 40; i++ {
				dir := dirs[rng.Intn(len(dirs))]
				name := fmt.Sprintf("f%d%s", i, exts[rng.Intn(len(exts))])
				files[dir+"/"+name] = ""
			}
			root := writeTree(t, files)

			var want []string
			for rel := range files {
				if filter.IsEligible(rel, allowed, excluded) {
					want = append(want, rel)
				}
			}
			sort.Strings(want)

			res, err := New().Walk(context.Background(), root, filter.New(root, allowed, excluded))
			require.NoError(t, err)

			got := relPaths(root, res)
			if len(want) == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, want, got)
			}
			assert.True(t, sort.StringsAreSorted(res.Paths()))
		})
	}
}

func TestResult_SameFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"a.ts": "1", "b.ts": "2"})
	f := filter.New(root, []string{".ts"}, nil)
	w := New()

	first, err := w.Walk(context.Background(), root, f)
	require.NoError(t, err)
	second, err := w.Walk(context.Background(), root, f)
	require.NoError(t, err)
	assert.True(t, first.SameFiles(second))

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.ts"), []byte("grown"), 0644))
	third, err := w.Walk(context.Background(), root, f)
	require.NoError(t, err)
	assert.False(t, first.SameFiles(third))

	assert.False(t, first.SameFiles(nil))
}
