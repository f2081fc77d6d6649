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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// pythonModule matches an absolute dotted Python module name.
var pythonModule = regexp.MustCompile(`^[A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*$`)

// TokenShape classifies a raw token for resolution.
type TokenShape int

const (
	// ShapeBare is a package name or URL; unresolved without a warning.
	ShapeBare TokenShape = iota

	// ShapeRelative starts with ./ or ../ or is . or ..
	ShapeRelative

	// ShapeRooted starts with a single /.
	ShapeRooted

	// ShapePythonModule is an absolute dotted module in a Python file.
	ShapePythonModule

	// ShapeGoPackage is a Go import path.
	ShapeGoPackage
)

// ResolveOptions configures candidate generation.
type ResolveOptions struct {
	// Suffixes are appended to the token base in order. Nil derives
	// "" followed by the allowed extensions.
	Suffixes []string

	// IndexFiles are joined to the token base, treated as a directory, in
	// order. Nil derives index<ext> for each allowed extension, then
	// __init__.py when .py is allowed.
	IndexFiles []string
}

// DefaultResolveOptions derives suffixes and index files from the allow-list.
func DefaultResolveOptions(allowed []string) ResolveOptions {
	suffixes := make([]string, 0, len(allowed)+1)
	suffixes = append(suffixes, "")
	index := make([]string, 0, len(allowed)+1)
	hasPy := false
	for _, ext := range allowed {
		suffixes = append(suffixes, ext)
		index = append(index, "index"+ext)
		if ext == ".py" {
			hasPy = true
		}
	}
	if hasPy {
		index = append(index, "__init__.py")
	}
	return ResolveOptions{Suffixes: suffixes, IndexFiles: index}
}

// Resolver maps tokens to files in a fixed file set.
//
// Thread Safety: Resolver is immutable after construction and safe for
// concurrent use.
type Resolver struct {
	root       string
	files      map[string]struct{}
	suffixes   []string
	indexFiles []string

	goModule   string
	goPackages map[string][]string
}

// NewResolver creates a Resolver for the files under root.
//
// Description:
//
//	Indexes paths for O(1) membership and groups non-test .go files by
//	directory. When root holds a go.mod, its module path enables Go import
//	resolution; an unreadable or malformed go.mod disables it.
//
// Inputs:
//
//	root - Canonical project root.
//	paths - Canonical file paths of the scan.
//	opts - Candidate options. Nil slices are derived from the extensions
//	       present in paths; callers normally pass DefaultResolveOptions.
func NewResolver(root string, paths []string, opts ResolveOptions) *Resolver {
	r := &Resolver{
		root:       root,
		files:      make(map[string]struct{}, len(paths)),
		suffixes:   opts.Suffixes,
		indexFiles: opts.IndexFiles,
		goPackages: make(map[string][]string),
	}

	for _, p := range paths {
		r.files[p] = struct{}{}
		if strings.HasSuffix(p, ".go") && !strings.HasSuffix(p, "_test.go") {
			dir := filepath.Dir(p)
			r.goPackages[dir] = append(r.goPackages[dir], p)
		}
	}
	for dir := range r.goPackages {
		sort.Strings(r.goPackages[dir])
	}

	if r.suffixes == nil || r.indexFiles == nil {
		derived := DefaultResolveOptions(extensionsOf(paths))
		if r.suffixes == nil {
			r.suffixes = derived.Suffixes
		}
		if r.indexFiles == nil {
			r.indexFiles = derived.IndexFiles
		}
	}

	if mod, err := readModulePath(filepath.Join(root, "go.mod")); err == nil {
		r.goModule = mod
	}

	return r
}

// GoModule returns the module path from the root go.mod, if any.
func (r *Resolver) GoModule() string { return r.goModule }

// Shape classifies raw as written in a file with extension ext.
func Shape(raw, ext string, kind RefKind) TokenShape {
	switch {
	case kind == KindPackage:
		return ShapeGoPackage
	case isRelative(raw):
		return ShapeRelative
	case strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//"):
		return ShapeRooted
	case (ext == ".py" || ext == ".pyi") && kind == KindImport && pythonModule.MatchString(raw):
		return ShapePythonModule
	default:
		return ShapeBare
	}
}

// Resolve returns the files raw refers to from the file at from.
//
// Description:
//
//	Strips ?query and #fragment, then resolves by shape. Relative tokens
//	join the directory of from, rooted tokens and Python modules join the
//	root (".." never climbs above the root), and each base is probed with the configured suffixes and then
//	as a directory with the index files. Go packages under the module
//	path expand to every non-test .go file of the package directory.
//	The result may include from itself; callers drop self-references.
//
// Outputs:
//
//	[]string - Resolved files; empty when nothing matched.
func (r *Resolver) Resolve(from string, tok Token) []string {
	raw := stripQueryAndFragment(tok.Raw)
	if raw == "" {
		return nil
	}
	ext := filepath.Ext(from)

	switch Shape(raw, ext, tok.Kind) {
	case ShapeRelative:
		return r.probe(r.join(filepath.Dir(from), raw), isDirToken(raw))
	case ShapeRooted:
		return r.probe(r.join(r.root, raw), strings.HasSuffix(raw, "/"))
	case ShapePythonModule:
		rooted := filepath.Join(r.root, filepath.FromSlash(strings.ReplaceAll(raw, ".", "/")))
		return r.probe(rooted, false)
	case ShapeGoPackage:
		return r.goPackage(raw)
	default:
		return nil
	}
}

// join resolves raw against dir inside the project coordinate space: the
// root acts as "/", so ".." segments that would leave it stop at the root.
func (r *Resolver) join(dir, raw string) string {
	relDir, err := filepath.Rel(r.root, dir)
	if err != nil || relDir == ".." || strings.HasPrefix(relDir, ".."+string(filepath.Separator)) {
		return filepath.Join(dir, filepath.FromSlash(raw))
	}
	rooted := path.Join("/", filepath.ToSlash(relDir), raw)
	return filepath.Join(r.root, filepath.FromSlash(rooted))
}

// probe tries base+suffix, then base/index, returning the first known file.
func (r *Resolver) probe(base string, dirOnly bool) []string {
	base = filepath.Clean(base)
	if !dirOnly {
		for _, suffix := range r.suffixes {
			if hit := r.known(base + suffix); hit != "" {
				return []string{hit}
			}
		}
	}
	for _, index := range r.indexFiles {
		if hit := r.known(filepath.Join(base, index)); hit != "" {
			return []string{hit}
		}
	}
	return nil
}

func (r *Resolver) known(path string) string {
	if _, ok := r.files[path]; ok {
		return path
	}
	return ""
}

func (r *Resolver) goPackage(importPath string) []string {
	if r.goModule == "" {
		return nil
	}
	var rel string
	switch {
	case importPath == r.goModule:
		rel = ""
	case strings.HasPrefix(importPath, r.goModule+"/"):
		rel = strings.TrimPrefix(importPath, r.goModule+"/")
	default:
		return nil
	}

	dir := filepath.Join(r.root, filepath.FromSlash(rel))
	return append([]string(nil), r.goPackages[dir]...)
}

// isRelative reports whether raw starts a relative path.
func isRelative(raw string) bool {
	return raw == "." || raw == ".." || strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../")
}

// isDirToken reports whether raw can only name a directory.
func isDirToken(raw string) bool {
	return raw == "." || raw == ".." || strings.HasSuffix(raw, "/")
}

func stripQueryAndFragment(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

func extensionsOf(paths []string) []string {
	seen := make(map[string]struct{})
	var exts []string
	for _, p := range paths {
		ext := filepath.Ext(p)
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; !ok {
			seen[ext] = struct{}{}
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

// readModulePath parses go.mod at path and returns its module path.
func readModulePath(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := modfile.Parse(path, content, nil)
	if err != nil {
		return "", fmt.Errorf("parse go.mod: %w", err)
	}
	if f.Module == nil {
		return "", fmt.Errorf("parse go.mod: no module directive")
	}
	return f.Module.Mod.Path, nil
}
