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
	"sort"
	"sync"
)

// Grammar scans file content for reference tokens.
//
// Implementations must not fail on syntax errors: malformed input yields
// whatever tokens could be recognized. The only error a Grammar returns is
// context cancellation.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Grammar interface {
	// Name identifies the grammar in cache keys, logs and metrics.
	Name() string

	// Extensions lists the file extensions this grammar handles, with dot.
	Extensions() []string

	// Scan returns the tokens of content in source order.
	Scan(ctx context.Context, ext string, content []byte) ([]Token, error)
}

// Registry maps file extensions to syntax grammars.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]Grammar
	byExtension map[string]Grammar
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:      make(map[string]Grammar),
		byExtension: make(map[string]Grammar),
	}
}

// DefaultRegistry returns a Registry with every built-in tree-sitter grammar.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewJavaScriptGrammar())
	r.Register(NewTypeScriptGrammar())
	r.Register(NewTSXGrammar())
	r.Register(NewPythonGrammar())
	r.Register(NewGoGrammar())
	r.Register(NewCSSGrammar())
	return r
}

// Register adds g under its name and every extension it claims,
// replacing earlier registrations.
func (r *Registry) Register(g Grammar) {
	if g == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[g.Name()] = g
	for _, ext := range g.Extensions() {
		r.byExtension[ext] = g
	}
}

// ForExtension returns the grammar registered for ext.
func (r *Registry) ForExtension(ext string) (Grammar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byExtension[ext]
	return g, ok
}

// Names returns the registered grammar names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the grammar to use for ext under mode.
func (r *Registry) Select(mode Mode, ext string, lexical Grammar) Grammar {
	if mode == ModeLexical || r == nil {
		return lexical
	}
	if g, ok := r.ForExtension(ext); ok {
		return g
	}
	return lexical
}
