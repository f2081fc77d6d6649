// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"github.com/AleutianAI/depgraph/services/depgraph/diag"
)

// FileRecord is one eligible source file.
//
// Path is the node identity everywhere downstream: absolute, cleaned,
// case-sensitive and without a trailing slash.
type FileRecord struct {
	// Path is the canonical absolute path.
	Path string `json:"path"`

	// Extension is the allowed extension that matched, e.g. ".ts".
	Extension string `json:"extension"`

	// DisplayLabel is the root-relative path without its extension.
	DisplayLabel string `json:"display_label"`
}

// Fingerprint is the cheap change signature of a file.
type Fingerprint struct {
	Size        int64 `json:"size"`
	ModTimeNano int64 `json:"mod_time_nano"`
}

// Result is the outcome of one walk.
type Result struct {
	// Root is the absolute, cleaned project root.
	Root string `json:"root"`

	// Extensions is the normalized allow-list the walk used, in order.
	Extensions []string `json:"extensions"`

	// Files are the eligible files sorted by Path.
	Files []FileRecord `json:"files"`

	// Fingerprints maps each file path to its fingerprint.
	Fingerprints map[string]Fingerprint `json:"fingerprints"`

	// Warnings are the non-fatal problems met during the walk.
	Warnings []diag.Warning `json:"warnings"`
}

// Paths returns the file paths in order.
func (r *Result) Paths() []string {
	out := make([]string, len(r.Files))
	for i, f := range r.Files {
		out[i] = f.Path
	}
	return out
}

// Lookup returns the record for path.
func (r *Result) Lookup(path string) (FileRecord, bool) {
	lo, hi := 0, len(r.Files)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if r.Files[mid].Path < path {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.Files) && r.Files[lo].Path == path {
		return r.Files[lo], true
	}
	return FileRecord{}, false
}

// SameFiles reports whether other lists the same files with the same
// fingerprints, in the same order.
func (r *Result) SameFiles(other *Result) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Root != other.Root || len(r.Files) != len(other.Files) {
		return false
	}
	for i := range r.Files {
		if r.Files[i] != other.Files[i] {
			return false
		}
		if r.Fingerprints[r.Files[i].Path] != other.Fingerprints[other.Files[i].Path] {
			return false
		}
	}
	return true
}
