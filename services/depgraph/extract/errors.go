// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract finds the references a source file makes to other files
// and resolves them against the scanned file set.
//
// Scanning is delegated to a Grammar chosen by file extension. Syntax
// grammars are backed by tree-sitter and tolerate syntax errors; the
// lexical grammar is regexp based and accepts any extension. Resolution is
// purely path based: relative and project-rooted tokens are joined and
// probed against the known files with configurable suffixes and index
// files, Python dotted modules are mapped to rooted paths, and Go import
// paths under the project's module are expanded to the package's files.
//
// # Thread Safety
//
// Extractor, Resolver, Registry and TokenCache are safe for concurrent use.
package extract

import (
	"errors"
)

// Sentinel errors for extraction.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidContent is attached to warnings for files that are not
	// valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")

	// ErrUnknownMode is returned for an unrecognized grammar mode.
	ErrUnknownMode = errors.New("unknown grammar mode")

	// ErrUnresolved is attached to unresolved_reference warnings.
	ErrUnresolved = errors.New("reference does not match any scanned file")
)
