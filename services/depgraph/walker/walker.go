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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/filter"
)

// DefaultMaxFileSize is the size above which files are skipped.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Option is a functional option for configuring a Walker.
type Option func(*Walker)

// Walker enumerates eligible files under a root.
//
// Thread Safety: Walker is safe for concurrent use; every Walk keeps its
// own state.
type Walker struct {
	followSymlinks bool
	maxFileSize    int64
	logger         *slog.Logger
}

// New creates a Walker.
//
// Default configuration:
//   - followSymlinks: true
//   - maxFileSize: DefaultMaxFileSize (0 disables the limit)
//   - logger: slog.Default()
func New(opts ...Option) *Walker {
	w := &Walker{
		followSymlinks: true,
		maxFileSize:    DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// WithFollowSymlinks enables or disables following symlinks.
func WithFollowSymlinks(follow bool) Option {
	return func(w *Walker) {
		w.followSymlinks = follow
	}
}

// WithMaxFileSize sets the maximum file size. Zero means unlimited.
func WithMaxFileSize(bytes int64) Option {
	return func(w *Walker) {
		w.maxFileSize = bytes
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Walker) {
		w.logger = logger
	}
}

// walkState is the per-call state of one Walk.
type walkState struct {
	root         string
	resolvedRoot string
	filter       *filter.Filter
	result       *Result

	// Directories and files already recorded, by identity and by
	// canonical path, so a target reached through a link is listed once.
	seenDirs  map[dirKey]struct{}
	seenFiles map[string]struct{}
}

// canonical maps a resolved symlink target back under root, returning the
// path and its root-relative form.
func (st *walkState) canonical(target string) (string, string) {
	rel, err := filepath.Rel(st.resolvedRoot, target)
	if err != nil {
		return target, target
	}
	return filepath.Join(st.root, rel), rel
}

// Walk enumerates the eligible files under root.
//
// Description:
//
//	Resolves root to an absolute, cleaned path and traverses it depth-first.
//	Directories rejected by f.AllowsDir are never read. Files are kept when
//	f.IsEligible accepts their root-relative path. Symlinks are followed
//	unless disabled and recorded under their target's path, so every file
//	and directory appears once whatever links reach it. A symlinked
//	directory that points back at a directory on the current descent is
//	skipped with a symlink_cycle warning, and a symlink leaving the root is
//	skipped with a file_access warning.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	root - Project root, absolute or relative to the working directory.
//	f - The eligibility filter. Must not be nil.
//
// Outputs:
//
//	*Result - Files sorted by path, fingerprints and warnings.
//	error - *ConfigurationError for a missing or non-directory root,
//	        or the context error when cancelled.
func (w *Walker) Walk(ctx context.Context, root string, f *filter.Filter) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if f == nil {
		return nil, ErrNilFilter
	}

	absRoot, err := CanonicalRoot(root)
	if err != nil {
		return nil, err
	}

	ctx, span := startWalkSpan(ctx, absRoot)
	defer span.End()
	start := time.Now()

	result := &Result{
		Root:         absRoot,
		Extensions:   f.Extensions(),
		Files:        []FileRecord{},
		Fingerprints: make(map[string]Fingerprint),
	}

	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		resolvedRoot = absRoot
	}

	st := &walkState{
		root:         absRoot,
		resolvedRoot: resolvedRoot,
		filter:       f,
		result:       result,
		seenDirs:     make(map[dirKey]struct{}),
		seenFiles:    make(map[string]struct{}),
	}

	var ancestors []dirKey
	if key, kerr := keyOf(absRoot); kerr == nil {
		ancestors = append(ancestors, key)
		st.seenDirs[key] = struct{}{}
	}

	if err := w.walkDir(ctx, st, absRoot, ".", ancestors); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk cancelled")
		recordWalkMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, err
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	diag.Sort(result.Warnings)

	span.SetAttributes(
		attribute.Int("walk.file_count", len(result.Files)),
		attribute.Int("walk.warning_count", len(result.Warnings)),
	)
	recordWalkMetrics(ctx, time.Since(start), len(result.Files), len(result.Warnings), true)

	w.logger.Debug("walk complete",
		slog.String("root", absRoot),
		slog.Int("files", len(result.Files)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// CanonicalRoot validates root and returns its absolute, cleaned form.
//
// Outputs:
//
//	string - The canonical root.
//	error - *ConfigurationError when root is missing or not a directory.
func CanonicalRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", &ConfigurationError{Root: root, Err: err}
	}
	absRoot = filepath.Clean(absRoot)

	info, err := os.Stat(absRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &ConfigurationError{Root: absRoot, Err: ErrRootNotFound}
		}
		return "", &ConfigurationError{Root: absRoot, Err: err}
	}
	if !info.IsDir() {
		return "", &ConfigurationError{Root: absRoot, Err: ErrRootNotDirectory}
	}
	return absRoot, nil
}

func (w *Walker) walkDir(ctx context.Context, st *walkState, dir, rel string, ancestors []dirKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: dir, Err: err})
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())
		relPath := filepath.Join(rel, entry.Name())

		info, err := os.Lstat(path)
		if err != nil {
			w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err})
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !w.followSymlinks {
				continue
			}
			if !st.filter.AllowsDir(relPath) {
				continue
			}
			var target string
			info, target, err = w.followLink(st, path)
			if err != nil || info == nil {
				continue
			}
			linkPath := path
			path, relPath = st.canonical(target)
			if info.IsDir() {
				// A link back to an ancestor is reported at the link itself.
				if key, kerr := keyOf(path); kerr == nil && containsKey(ancestors, key) {
					w.warn(st, diag.Warning{Kind: diag.KindSymlinkCycle, Path: linkPath, Err: ErrSymlinkCycle})
					continue
				}
			}
		}

		switch {
		case info.IsDir():
			if !st.filter.AllowsDir(relPath) {
				continue
			}
			key, err := keyOf(path)
			if err != nil {
				w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err})
				continue
			}
			if containsKey(ancestors, key) {
				w.warn(st, diag.Warning{
					Kind: diag.KindSymlinkCycle,
					Path: path,
					Err:  ErrSymlinkCycle,
				})
				continue
			}
			if _, seen := st.seenDirs[key]; seen {
				continue
			}
			st.seenDirs[key] = struct{}{}
			if err := w.walkDir(ctx, st, path, relPath, append(ancestors, key)); err != nil {
				return err
			}

		case info.Mode().IsRegular():
			w.visitFile(st, path, relPath, info)
		}
	}

	return nil
}

// followLink resolves a symlink and returns the target's info and fully
// resolved path, or nil with a recorded warning when the target is
// unusable.
func (w *Walker) followLink(st *walkState, path string) (os.FileInfo, string, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err})
		return nil, "", err
	}
	if !within(st.resolvedRoot, target) {
		err := fmt.Errorf("%w: %s", ErrSymlinkOutsideRoot, target)
		w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err})
		return nil, "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		w.warn(st, diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err})
		return nil, "", err
	}
	return info, target, nil
}

func (w *Walker) visitFile(st *walkState, path, relPath string, info os.FileInfo) {
	if !st.filter.IsEligible(relPath) {
		return
	}
	if _, seen := st.seenFiles[path]; seen {
		return
	}
	st.seenFiles[path] = struct{}{}
	if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
		w.warn(st, diag.Warning{
			Kind: diag.KindFileTooLarge,
			Path: path,
			Err:  fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size()),
		})
		return
	}

	ext, _ := st.filter.MatchExtension(path)
	st.result.Files = append(st.result.Files, FileRecord{
		Path:         path,
		Extension:    ext,
		DisplayLabel: st.filter.DisplayLabel(relPath),
	})
	st.result.Fingerprints[path] = Fingerprint{
		Size:        info.Size(),
		ModTimeNano: info.ModTime().UnixNano(),
	}
}

func (w *Walker) warn(st *walkState, warning diag.Warning) {
	st.result.Warnings = append(st.result.Warnings, warning)
	w.logger.Debug("walk warning",
		slog.String("kind", string(warning.Kind)),
		slog.String("path", warning.Path),
		slog.Any("error", warning.Err),
	)
}

func containsKey(keys []dirKey, key dirKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// within reports whether path is root or lies beneath it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
