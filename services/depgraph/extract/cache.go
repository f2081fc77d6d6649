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

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// DefaultCacheSize is the number of files whose tokens are remembered.
const DefaultCacheSize = 8192

type cacheKey struct {
	path        string
	fingerprint walker.Fingerprint
	grammar     string
}

// TokenCache remembers scanned tokens per file version and grammar.
//
// Only scanning is cached. Resolution depends on the whole file set and is
// recomputed on every build.
//
// Thread Safety: TokenCache is safe for concurrent use.
type TokenCache struct {
	lru *lru.Cache[cacheKey, []Token]
}

// NewTokenCache creates a cache holding up to size entries.
func NewTokenCache(size int) (*TokenCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, []Token](size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &TokenCache{lru: c}, nil
}

// Get returns the cached tokens for a file version.
func (c *TokenCache) Get(path string, fp walker.Fingerprint, grammar string) ([]Token, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey{path: path, fingerprint: fp, grammar: grammar})
}

// Add stores tokens for a file version.
func (c *TokenCache) Add(path string, fp walker.Fingerprint, grammar string, tokens []Token) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey{path: path, fingerprint: fp, grammar: grammar}, tokens)
}

// Len returns the number of cached entries.
func (c *TokenCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry.
func (c *TokenCache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
