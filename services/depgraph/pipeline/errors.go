// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the dependency graph engine end to end.
//
// Engine exposes the four entry points used by collaborators: ListFiles,
// BuildGraph, ProjectNeighborhood and Diagnostics. Rebuilder sits on top
// of an Engine and serializes rebuild requests so that only the most
// recently requested result is ever published.
package pipeline

import "errors"

// Sentinel errors for the pipeline.
var (
	// ErrNilScan is returned when BuildGraph receives no walk result.
	ErrNilScan = errors.New("scan result must not be nil")

	// ErrRootMismatch is returned when the scan was taken from another root.
	ErrRootMismatch = errors.New("scan root does not match requested root")

	// ErrSuperseded is returned when a newer rebuild was requested before
	// this one finished. Its result is discarded.
	ErrSuperseded = errors.New("rebuild superseded by a newer request")

	// ErrNoSnapshot is returned when no rebuild has been published yet.
	ErrNoSnapshot = errors.New("no snapshot published")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")
)
