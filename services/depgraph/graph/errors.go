// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the file dependency graph and projects bounded
// neighborhoods out of it.
//
// # Lifecycle
//
// A Graph is built once per rebuild:
//  1. Create with NewGraph(root)
//  2. Add every file with AddNode and every resolved reference with AddEdge
//  3. Call Freeze
//
// After Freeze the graph is read-only and safe for concurrent readers.
// Graphs are never patched; a rebuild produces a new Graph.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when modifying a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge endpoint is not a node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a path twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrSelfEdge is returned when adding an edge from a file to itself.
	ErrSelfEdge = errors.New("self edge")

	// ErrInvariantViolated is returned by Validate.
	ErrInvariantViolated = errors.New("graph invariant violated")

	// ErrNilGraph is returned when a nil graph is passed.
	ErrNilGraph = errors.New("graph must not be nil")
)
