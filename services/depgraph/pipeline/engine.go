// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/extract"
	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// BuildResult is the complete outcome of one BuildGraph call.
type BuildResult struct {
	// Root is the canonical project root.
	Root string `json:"root"`

	// Scan is the walk the graph was built from.
	Scan *walker.Result `json:"-"`

	// Graph is the frozen dependency graph.
	Graph *graph.Graph `json:"graph"`

	// References holds the references of Scan.Files[i] at index i.
	References [][]extract.Reference `json:"-"`

	// Warnings are walk and extraction warnings, sorted.
	Warnings []diag.Warning `json:"warnings"`

	// Stats describes what the builder kept and skipped.
	Stats graph.BuildStats `json:"stats"`

	// Duration is the wall time of extraction and building.
	Duration time.Duration `json:"duration_ns"`
}

// Files returns the scanned files.
func (r *BuildResult) Files() []walker.FileRecord {
	if r.Scan == nil {
		return nil
	}
	return r.Scan.Files
}

// Diagnostics counts the warnings of r per kind.
func (r *BuildResult) Diagnostics() diag.Summary {
	return diag.Summarize(r.Warnings)
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of files extracted in parallel.
// Values below 1 select runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithMode sets the grammar selection mode.
func WithMode(mode extract.Mode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// WithRegistry sets the syntax grammar registry.
func WithRegistry(r *extract.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithTokenCache sets the token cache shared across builds.
func WithTokenCache(c *extract.TokenCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithResolveOptions overrides the suffix and index file candidates.
// Nil fields fall back to the defaults for the scan's allow-list.
func WithResolveOptions(opts extract.ResolveOptions) Option {
	return func(e *Engine) {
		e.resolveOpts = opts
	}
}

// WithWalker sets the walker used by ListFiles.
func WithWalker(w *walker.Walker) Option {
	return func(e *Engine) {
		e.walker = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine runs walk, extraction, build and projection.
//
// An Engine holds no project state. Root and settings are passed on every
// call; only the token cache persists between calls.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	walker      *walker.Walker
	registry    *extract.Registry
	cache       *extract.TokenCache
	mode        extract.Mode
	resolveOpts extract.ResolveOptions
	concurrency int
	logger      *slog.Logger
}

// NewEngine creates an Engine.
//
// Default configuration:
//   - walker: walker.New() (symlinks followed, 10MB size limit)
//   - mode: extract.ModeAuto
//   - registry: extract.DefaultRegistry()
//   - cache: extract.DefaultCacheSize entries
//   - concurrency: runtime.NumCPU()
func NewEngine(opts ...Option) *Engine {
	e := &Engine{mode: extract.ModeAuto}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.walker == nil {
		e.walker = walker.New(walker.WithLogger(e.logger))
	}
	if e.registry == nil {
		e.registry = extract.DefaultRegistry()
	}
	if e.cache == nil {
		cache, err := extract.NewTokenCache(extract.DefaultCacheSize)
		if err != nil {
			e.logger.Warn("token cache disabled", slog.String("error", err.Error()))
		}
		e.cache = cache
	}
	if e.concurrency < 1 {
		e.concurrency = runtime.NumCPU()
	}
	return e
}

// Concurrency returns the extraction parallelism bound.
func (e *Engine) Concurrency() int { return e.concurrency }

// ListFiles returns the eligible files under root.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	root - Project root.
//	allowedExtensions - Allow-list; normalized to ".ext". Empty matches nothing.
//	excludedDirFragments - Substrings that exclude a directory segment.
//
// Outputs:
//
//	*walker.Result - Sorted files, fingerprints and walk warnings.
//	error - *walker.ConfigurationError or the context error.
func (e *Engine) ListFiles(ctx context.Context, root string, allowedExtensions, excludedDirFragments []string) (*walker.Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	absRoot, err := walker.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	return e.walker.Walk(ctx, absRoot, filter.New(absRoot, allowedExtensions, excludedDirFragments))
}

// BuildGraph extracts the references of every scanned file and builds
// the graph.
//
// Description:
//
//	Extraction fans out over a pool bounded by the configured
//	concurrency. Each task writes only its own slot; the graph is built
//	after all tasks have joined, so no partial graph is ever produced.
//
// Inputs:
//
//	ctx - Context for cancellation. A cancelled build returns ctx.Err().
//	root - Project root; must canonicalize to files.Root.
//	files - The completed walk.
//
// Outputs:
//
//	*BuildResult - The graph with its warnings and stats.
//	error - ErrNilScan, ErrRootMismatch, *walker.ConfigurationError or
//	        the context error.
func (e *Engine) BuildGraph(ctx context.Context, root string, files *walker.Result) (*BuildResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if files == nil {
		return nil, ErrNilScan
	}
	absRoot, err := walker.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	if absRoot != files.Root {
		return nil, fmt.Errorf("%w: %s != %s", ErrRootMismatch, absRoot, files.Root)
	}

	ctx, span := startPipelineSpan(ctx, "Engine.BuildGraph", absRoot)
	defer span.End()
	start := time.Now()

	extractor := extract.NewExtractor(files,
		extract.WithMode(e.mode),
		extract.WithRegistry(e.registry),
		extract.WithCache(e.cache),
		extract.WithResolveOptions(e.resolveOptionsFor(files)),
		extract.WithLogger(e.logger),
	)

	refs := make([][]extract.Reference, len(files.Files))
	warnings := make([][]diag.Warning, len(files.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range files.Files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			refs[i], warnings[i] = extractor.Extract(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := append([]diag.Warning(nil), files.Warnings...)
	for _, ws := range warnings {
		all = append(all, ws...)
	}
	diag.Sort(all)

	built, stats := graph.NewBuilder(absRoot, graph.WithBuilderLogger(e.logger)).Build(ctx, files.Files, refs)

	result := &BuildResult{
		Root:       absRoot,
		Scan:       files,
		Graph:      built,
		References: refs,
		Warnings:   all,
		Stats:      stats,
		Duration:   time.Since(start),
	}

	e.logger.Info("dependency graph built",
		slog.String("root", absRoot),
		slog.Int("files", len(files.Files)),
		slog.Int("edges", stats.Edges),
		slog.Int("warnings", len(all)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// Run lists the files under root and builds their graph.
func (e *Engine) Run(ctx context.Context, root string, allowedExtensions, excludedDirFragments []string) (*BuildResult, error) {
	files, err := e.ListFiles(ctx, root, allowedExtensions, excludedDirFragments)
	if err != nil {
		return nil, err
	}
	return e.BuildGraph(ctx, files.Root, files)
}

// ProjectNeighborhood returns the subgraph within depth hops of focus.
// See graph.Project for the exact rules.
func (e *Engine) ProjectNeighborhood(g *graph.Graph, focusPath string, depth int) *graph.Subgraph {
	return graph.Project(g, focusPath, depth)
}

// Diagnostics counts the warnings of result per kind.
func (e *Engine) Diagnostics(result *BuildResult) diag.Summary {
	if result == nil {
		return diag.Summarize(nil)
	}
	return result.Diagnostics()
}

func (e *Engine) resolveOptionsFor(files *walker.Result) extract.ResolveOptions {
	opts := e.resolveOpts
	if opts.Suffixes != nil && opts.IndexFiles != nil {
		return opts
	}
	if len(files.Extensions) == 0 {
		return opts
	}
	defaults := extract.DefaultResolveOptions(files.Extensions)
	if opts.Suffixes == nil {
		opts.Suffixes = defaults.Suffixes
	}
	if opts.IndexFiles == nil {
		opts.IndexFiles = defaults.IndexFiles
	}
	return opts
}
