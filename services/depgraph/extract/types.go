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
	"strings"
)

// RefKind is the syntactic form a reference was written in.
type RefKind string

const (
	// KindImport is a static import (ES, Python, CSS @import).
	KindImport RefKind = "import"

	// KindRequire is a CommonJS require call.
	KindRequire RefKind = "require"

	// KindInclude is a C-style #include "...".
	KindInclude RefKind = "include"

	// KindDynamicImport is an ES import() call.
	KindDynamicImport RefKind = "dynamic_import"

	// KindPathLiteral is any other quoted relative path or CSS url().
	KindPathLiteral RefKind = "path_literal"

	// KindPackage is a Go import path.
	KindPackage RefKind = "package"
)

// Token is one raw reference found by a Grammar, before resolution.
type Token struct {
	// Raw is the reference text without quotes.
	Raw string `json:"raw"`

	// Line is the 1-indexed line of the token.
	Line int `json:"line"`

	// Kind is the syntactic form.
	Kind RefKind `json:"kind"`
}

// Reference is one resolved or unresolved reference from a file.
//
// Resolved is empty when the token names no scanned file.
type Reference struct {
	From     string  `json:"from"`
	RawToken string  `json:"raw_token"`
	Resolved string  `json:"resolved,omitempty"`
	Line     int     `json:"line"`
	Kind     RefKind `json:"kind"`
}

// IsResolved reports whether the reference names a scanned file.
func (r Reference) IsResolved() bool {
	return r.Resolved != ""
}

// Mode selects how grammars are chosen.
type Mode string

const (
	// ModeAuto uses a syntax grammar when one is registered for the
	// extension and the lexical grammar otherwise.
	ModeAuto Mode = "auto"

	// ModeLexical uses the lexical grammar for every file.
	ModeLexical Mode = "lexical"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeLexical:
		return ModeLexical, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
