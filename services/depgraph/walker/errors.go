// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package walker enumerates eligible source files under a project root.
//
// The walk is depth-first, follows symlinks by default, prunes excluded
// directories before reading them and never aborts on a single unreadable
// entry. Per-entry problems are returned as diag.Warning values; the only
// fatal errors are a bad root (ConfigurationError) and context
// cancellation.
//
// # Thread Safety
//
// Walker is safe for concurrent use. A Result must not be modified while
// other goroutines read it.
package walker

import (
	"errors"
	"fmt"
)

// Sentinel errors for walk operations.
var (
	// ErrRootNotFound is returned when the project root does not exist.
	ErrRootNotFound = errors.New("project root not found")

	// ErrRootNotDirectory is returned when the project root is not a directory.
	ErrRootNotDirectory = errors.New("project root is not a directory")

	// ErrNilFilter is returned when Walk is called without a filter.
	ErrNilFilter = errors.New("filter must not be nil")

	// ErrNilContext is returned when Walk is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrSymlinkCycle is attached to warnings for directory cycles.
	ErrSymlinkCycle = errors.New("symlink cycle detected")

	// ErrSymlinkOutsideRoot is attached to warnings for symlinks that leave
	// the project root.
	ErrSymlinkOutsideRoot = errors.New("symlink target outside project root")

	// ErrFileTooLarge is attached to warnings for files above MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

// ConfigurationError reports a project root that cannot be scanned.
//
// It is the only non-cancellation error Walk returns. Callers surface it as
// "cannot scan project".
type ConfigurationError struct {
	// Root is the absolute root that was requested.
	Root string

	// Err is ErrRootNotFound, ErrRootNotDirectory or the stat error.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cannot scan project %s: %v", e.Root, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
