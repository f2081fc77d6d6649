// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diag defines the non-fatal diagnostics shared by every pipeline
// stage.
//
// A Warning never aborts a scan. Stages append warnings to their results
// and the caller decides how to surface them.
package diag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Kind classifies a Warning.
type Kind string

const (
	// KindFileAccess is an unreadable file or directory, or undecodable content.
	KindFileAccess Kind = "file_access"

	// KindUnresolvedReference is a relative or rooted reference with no
	// matching file in the scanned set.
	KindUnresolvedReference Kind = "unresolved_reference"

	// KindSymlinkCycle is a symlinked directory pointing at one of its ancestors.
	KindSymlinkCycle Kind = "symlink_cycle"

	// KindFileTooLarge is a file skipped for exceeding the size limit.
	KindFileTooLarge Kind = "file_too_large"
)

// Kinds lists every Kind in reporting order.
var Kinds = []Kind{KindFileAccess, KindUnresolvedReference, KindSymlinkCycle, KindFileTooLarge}

// Warning is a recoverable problem attached to a path.
type Warning struct {
	// Kind classifies the warning.
	Kind Kind

	// Path is the canonical path of the file or directory concerned.
	Path string

	// Token is the raw reference text for unresolved references.
	Token string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error so a Warning can be wrapped or logged directly.
func (w Warning) Error() string {
	switch {
	case w.Token != "" && w.Err != nil:
		return fmt.Sprintf("%s: %s: %q: %v", w.Kind, w.Path, w.Token, w.Err)
	case w.Token != "":
		return fmt.Sprintf("%s: %s: %q", w.Kind, w.Path, w.Token)
	case w.Err != nil:
		return fmt.Sprintf("%s: %s: %v", w.Kind, w.Path, w.Err)
	default:
		return fmt.Sprintf("%s: %s", w.Kind, w.Path)
	}
}

// Unwrap returns the underlying cause.
func (w Warning) Unwrap() error {
	return w.Err
}

type warningJSON struct {
	Kind  Kind   `json:"kind"`
	Path  string `json:"path"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON renders Err as a string.
func (w Warning) MarshalJSON() ([]byte, error) {
	out := warningJSON{Kind: w.Kind, Path: w.Path, Token: w.Token}
	if w.Err != nil {
		out.Error = w.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a Warning. Err keeps only its message.
func (w *Warning) UnmarshalJSON(b []byte) error {
	var in warningJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*w = Warning{Kind: in.Kind, Path: in.Path, Token: in.Token}
	if in.Error != "" {
		w.Err = errors.New(in.Error)
	}
	return nil
}

// Sort orders warnings by path, then kind, then token.
func Sort(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Path != ws[j].Path {
			return ws[i].Path < ws[j].Path
		}
		if ws[i].Kind != ws[j].Kind {
			return ws[i].Kind < ws[j].Kind
		}
		return ws[i].Token < ws[j].Token
	})
}

// Summary counts warnings per kind.
type Summary struct {
	Counts map[Kind]int `json:"counts"`
	Total  int          `json:"total"`
}

// Summarize counts ws per kind. Every known kind is present in Counts.
func Summarize(ws []Warning) Summary {
	s := Summary{Counts: make(map[Kind]int, len(Kinds))}
	for _, k := range Kinds {
		s.Counts[k] = 0
	}
	for _, w := range ws {
		s.Counts[w.Kind]++
		s.Total++
	}
	return s
}
