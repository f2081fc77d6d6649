// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter decides which files and directories take part in a scan.
//
// A path is eligible when its extension is on the allow-list and none of
// its segments, the file name included, contains an exclude fragment. An
// empty allow-list rejects everything.
package filter

import (
	"path/filepath"
	"strings"
)

// Default allow-list and exclude fragments.
var (
	// DefaultExtensions are the source extensions scanned when nothing is
	// configured explicitly.
	DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".vue", ".py", ".go", ".css"}

	// DefaultExcludes are directory name fragments pruned by default.
	DefaultExcludes = []string{"node_modules", ".git", "dist", "out", "vendor"}
)

// Filter holds a normalized allow-list and exclude fragments.
//
// Thread Safety: Filter is immutable after construction and safe for
// concurrent use.
type Filter struct {
	root       string
	extensions []string
	extSet     map[string]struct{}
	fragments  []string
}

// New creates a Filter.
//
// Description:
//
//	Normalizes allowed extensions to ".ext" form (whitespace trimmed,
//	leading dot added, empties and duplicates dropped, order kept) and
//	drops empty exclude fragments. When root is non-empty, absolute paths
//	under it are evaluated relative to it so a project that itself lives
//	under an excluded directory name can still be scanned.
//
// Inputs:
//
//	root - Project root (absolute) or "" to evaluate paths as given.
//	allowed - Allowed extensions, with or without leading dot.
//	excluded - Directory name fragments to exclude.
//
// Outputs:
//
//	*Filter - The filter. Never nil.
func New(root string, allowed, excluded []string) *Filter {
	exts := NormalizeExtensions(allowed)
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[e] = struct{}{}
	}

	frags := make([]string, 0, len(excluded))
	for _, f := range excluded {
		if f = strings.TrimSpace(f); f != "" {
			frags = append(frags, f)
		}
	}

	if root != "" {
		root = filepath.Clean(root)
	}

	return &Filter{
		root:       root,
		extensions: exts,
		extSet:     set,
		fragments:  frags,
	}
}

// NormalizeExtensions returns extensions in ".ext" form, deduplicated,
// in their original order.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if e == "" || e == "." {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// IsEligible reports whether path passes an allow-list and exclude
// fragments, evaluating path exactly as given.
func IsEligible(path string, allowedExtensions, excludedDirFragments []string) bool {
	return New("", allowedExtensions, excludedDirFragments).IsEligible(path)
}

// Root returns the root the filter evaluates paths against.
func (f *Filter) Root() string { return f.root }

// Extensions returns a copy of the normalized allow-list in order.
func (f *Filter) Extensions() []string {
	return append([]string(nil), f.extensions...)
}

// Fragments returns a copy of the exclude fragments.
func (f *Filter) Fragments() []string {
	return append([]string(nil), f.fragments...)
}

// IsEligible reports whether the file at path should be scanned.
func (f *Filter) IsEligible(path string) bool {
	if _, ok := f.MatchExtension(path); !ok {
		return false
	}
	return f.segmentsAllowed(f.relative(path))
}

// MatchExtension returns the allowed extension of path, if any.
//
// The comparison is case-sensitive and uses the last extension only, so
// "types.d.ts" matches ".ts".
func (f *Filter) MatchExtension(path string) (string, bool) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", false
	}
	if _, ok := f.extSet[ext]; !ok {
		return "", false
	}
	return ext, true
}

// AllowsDir reports whether no segment of dir contains an exclude fragment.
//
// The Walker calls this before descending so excluded subtrees are never
// read.
func (f *Filter) AllowsDir(dir string) bool {
	return f.segmentsAllowed(f.relative(dir))
}

// segmentsAllowed reports whether no segment of rel contains a fragment.
func (f *Filter) segmentsAllowed(rel string) bool {
	if len(f.fragments) == 0 {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == "" || seg == "." {
			continue
		}
		for _, frag := range f.fragments {
			if strings.Contains(seg, frag) {
				return false
			}
		}
	}
	return true
}

// DisplayLabel returns path relative to the root with its allowed
// extension removed, using forward slashes.
func (f *Filter) DisplayLabel(path string) string {
	rel := filepath.ToSlash(f.relative(path))
	if ext, ok := f.MatchExtension(rel); ok {
		return strings.TrimSuffix(rel, ext)
	}
	return rel
}

// relative rewrites absolute paths under root as root-relative paths.
func (f *Filter) relative(path string) string {
	if f.root == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
