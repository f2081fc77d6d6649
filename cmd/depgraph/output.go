// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/depgraph/pkg/ux"
	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Output formats of graph and neighborhood.
const (
	formatText = "text"
	formatJSON = "json"
	formatDOT  = "dot"
)

func validFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatDOT:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or dot)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as one compact line.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// relPath renders path relative to root with forward slashes.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// writeText lists each node followed by the nodes it imports.
func writeText(w io.Writer, root string, nodes []walker.FileRecord, edges []graph.Edge) {
	targets := make(map[string][]string, len(nodes))
	for _, e := range edges {
		targets[e.From] = append(targets[e.From], e.To)
	}
	for _, n := range nodes {
		fmt.Fprintln(w, relPath(root, n.Path))
		for _, to := range targets[n.Path] {
			fmt.Fprintf(w, "  %s %s\n", ux.IconArrow, relPath(root, to))
		}
	}
}

// writeDOT renders a Graphviz digraph labelled with display labels. The
// focus node, when set, is drawn bold.
func writeDOT(w io.Writer, root, focus string, nodes []walker.FileRecord, edges []graph.Edge) {
	fmt.Fprintln(w, "digraph depgraph {")
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box];")
	for _, n := range nodes {
		attrs := "label=" + strconv.Quote(n.DisplayLabel)
		if n.Path == focus {
			attrs += ", style=bold"
		}
		fmt.Fprintf(w, "  %s [%s];\n", strconv.Quote(relPath(root, n.Path)), attrs)
	}
	for _, e := range edges {
		fmt.Fprintf(w, "  %s -> %s;\n", strconv.Quote(relPath(root, e.From)), strconv.Quote(relPath(root, e.To)))
	}
	fmt.Fprintln(w, "}")
}

// kindLabels are the summary labels of each warning kind.
var kindLabels = map[diag.Kind]string{
	diag.KindFileAccess:          "Unreadable",
	diag.KindUnresolvedReference: "Unresolved",
	diag.KindSymlinkCycle:        "Symlink cycles",
	diag.KindFileTooLarge:        "Too large",
}

// diagnosticRows builds the diagnostic summary. Edges and duration are
// omitted when negative.
func diagnosticRows(files, edges int, summary diag.Summary, took time.Duration) []ux.Row {
	rows := []ux.Row{{Label: "Files", Value: strconv.Itoa(files)}}
	if edges >= 0 {
		rows = append(rows, ux.Row{Label: "Edges", Value: strconv.Itoa(edges)})
	}
	for _, k := range diag.Kinds {
		n := summary.Counts[k]
		rows = append(rows, ux.Row{Label: kindLabels[k], Value: strconv.Itoa(n), Warn: n > 0})
	}
	if took >= 0 {
		rows = append(rows, ux.Row{Label: "Took", Value: took.Round(time.Millisecond).String()})
	}
	return rows
}

// printWarnings lists each warning with its path relative to root.
func printWarnings(p *ux.Printer, root string, ws []diag.Warning) {
	for _, w := range ws {
		msg := fmt.Sprintf("%s %s", w.Kind, relPath(root, w.Path))
		if w.Token != "" {
			msg += " " + strconv.Quote(w.Token)
		}
		if w.Err != nil {
			msg += ": " + w.Err.Error()
		}
		p.Warning(msg)
	}
}
