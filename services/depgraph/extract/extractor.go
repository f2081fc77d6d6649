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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithMode sets the grammar selection mode.
func WithMode(mode Mode) Option {
	return func(e *Extractor) {
		e.mode = mode
	}
}

// WithRegistry sets the syntax grammar registry.
func WithRegistry(r *Registry) Option {
	return func(e *Extractor) {
		e.registry = r
	}
}

// WithCache shares a token cache across extractors.
func WithCache(c *TokenCache) Option {
	return func(e *Extractor) {
		e.cache = c
	}
}

// WithResolveOptions sets suffix and index file candidates.
func WithResolveOptions(opts ResolveOptions) Option {
	return func(e *Extractor) {
		e.resolveOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// Extractor finds and resolves the references of files in one scan.
//
// An Extractor is bound to a completed walk because resolution needs the
// whole file set. Build a new one per rebuild and share the TokenCache.
//
// Thread Safety: Extract is safe for concurrent use.
type Extractor struct {
	root         string
	fingerprints map[string]walker.Fingerprint

	mode        Mode
	registry    *Registry
	lexical     Grammar
	cache       *TokenCache
	resolveOpts ResolveOptions
	resolver    *Resolver
	logger      *slog.Logger
}

// NewExtractor creates an Extractor for the files of scan.
//
// Default configuration:
//   - mode: ModeAuto
//   - registry: DefaultRegistry()
//   - cache: none
//   - resolve options: derived from the extensions present in scan
func NewExtractor(scan *walker.Result, opts ...Option) *Extractor {
	e := &Extractor{
		root:         scan.Root,
		fingerprints: scan.Fingerprints,
		mode:         ModeAuto,
		lexical:      NewLexicalGrammar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.resolver = NewResolver(scan.Root, scan.Paths(), e.resolveOpts)
	return e
}

// Resolver returns the resolver bound to the scan.
func (e *Extractor) Resolver() *Resolver { return e.resolver }

// Extract returns the references of file and the warnings raised.
//
// Description:
//
//	Scans the file with the grammar selected for its extension (cached by
//	path, fingerprint and grammar), then resolves every token. A token
//	resolving only to file itself is dropped. Relative or rooted tokens
//	that match nothing are kept with an empty Resolved and reported as
//	unresolved_reference warnings; bare package names are kept silently.
//
// Inputs:
//
//	ctx - Context for cancellation. On cancellation Extract returns nil
//	      slices and the caller is expected to check ctx.Err().
//	file - A record from the scan this Extractor was built for.
//
// Outputs:
//
//	[]Reference - References in source order. May contain duplicates.
//	[]diag.Warning - file_access and unresolved_reference warnings.
func (e *Extractor) Extract(ctx context.Context, file walker.FileRecord) ([]Reference, []diag.Warning) {
	if ctx == nil {
		return nil, []diag.Warning{{Kind: diag.KindFileAccess, Path: file.Path, Err: ErrNilContext}}
	}

	ext := file.Extension
	if ext == "" {
		ext = filepath.Ext(file.Path)
	}
	grammar := e.registry.Select(e.mode, ext, e.lexical)

	ctx, span := startExtractSpan(ctx, file.Path, grammar.Name())
	defer span.End()
	start := time.Now()

	tokens, used, warning := e.tokens(ctx, file.Path, ext, grammar)
	if ctx.Err() != nil {
		return nil, nil
	}
	if warning != nil {
		recordExtractMetrics(ctx, used, time.Since(start), 0, 0, false)
		return nil, []diag.Warning{*warning}
	}

	var refs []Reference
	var warnings []diag.Warning
	resolved, unresolved := 0, 0
	for _, tok := range tokens {
		hits := e.resolver.Resolve(file.Path, tok)
		self := false
		emitted := 0
		for _, hit := range hits {
			if hit == file.Path {
				self = true
				continue
			}
			refs = append(refs, Reference{
				From:     file.Path,
				RawToken: tok.Raw,
				Resolved: hit,
				Line:     tok.Line,
				Kind:     tok.Kind,
			})
			emitted++
		}
		if emitted > 0 {
			resolved += emitted
			continue
		}
		if self {
			continue
		}

		refs = append(refs, Reference{From: file.Path, RawToken: tok.Raw, Line: tok.Line, Kind: tok.Kind})
		unresolved++
		switch Shape(stripQueryAndFragment(tok.Raw), ext, tok.Kind) {
		case ShapeRelative, ShapeRooted:
			warnings = append(warnings, diag.Warning{
				Kind:  diag.KindUnresolvedReference,
				Path:  file.Path,
				Token: tok.Raw,
				Err:   fmt.Errorf("%w (line %d)", ErrUnresolved, tok.Line),
			})
		}
	}

	span.SetAttributes(
		attribute.Int("extract.tokens", len(tokens)),
		attribute.Int("extract.resolved", resolved),
		attribute.Int("extract.unresolved", unresolved),
	)
	recordExtractMetrics(ctx, used, time.Since(start), resolved, unresolved, true)
	return refs, warnings
}

// tokens returns the scanned tokens of path and the grammar that produced
// them, or a file_access warning.
func (e *Extractor) tokens(ctx context.Context, path, ext string, grammar Grammar) ([]Token, string, *diag.Warning) {
	fp, haveFP := e.fingerprints[path]
	if haveFP && e.cache != nil {
		if toks, ok := e.cache.Get(path, fp, grammar.Name()); ok {
			recordCacheLookup(ctx, true)
			return toks, grammar.Name(), nil
		}
		recordCacheLookup(ctx, false)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, grammar.Name(), &diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: err}
	}
	if !utf8.Valid(content) {
		return nil, grammar.Name(), &diag.Warning{Kind: diag.KindFileAccess, Path: path, Err: ErrInvalidContent}
	}

	used := grammar
	toks, err := grammar.Scan(ctx, ext, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, grammar.Name(), nil
		}
		e.logger.Debug("syntax scan failed, falling back to lexical",
			slog.String("file", path),
			slog.String("grammar", grammar.Name()),
			slog.String("error", err.Error()),
		)
		used = e.lexical
		toks, err = e.lexical.Scan(ctx, ext, content)
		if err != nil {
			return nil, used.Name(), nil
		}
	}

	if haveFP && e.cache != nil {
		e.cache.Add(path, fp, grammar.Name(), toks)
	}
	return toks, used.Name(), nil
}
