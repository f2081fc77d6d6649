// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Title("ignored")
	p.Success("built")
	p.Warning("2 unresolved")
	p.Error("cannot scan project")
	p.Info("note")

	assert.Equal(t, "OK: built\nWARN: 2 unresolved\nERROR: cannot scan project\nnote\n", buf.String())
}

func TestPrinter_PlainSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Summary("Diagnostics", []Row{
		{Label: "Files", Value: "3"},
		{Label: "Unresolved reference", Value: "2", Warn: true},
	})

	assert.Equal(t, "diagnostics.files=3\ndiagnostics.unresolved_reference=2\n", buf.String())
}

func TestPrinter_StyledSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)
	assert.Equal(t, ModeStyled, p.Mode())

	p.Summary("Diagnostics", []Row{{Label: "Files", Value: "3"}})
	out := buf.String()
	assert.Contains(t, out, "Diagnostics")
	assert.Contains(t, out, "Files")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "╭")
}

func TestNewPrinter_UnknownModeIsPlain(t *testing.T) {
	assert.Equal(t, ModePlain, NewPrinter(&bytes.Buffer{}, "fancy").Mode())
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModePlain, DetectMode(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ModePlain, DetectMode(f))

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(os.Stdout))
}
