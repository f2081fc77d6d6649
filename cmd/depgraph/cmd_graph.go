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
	"context"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
)

func (c *cli) newGraphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and print the whole dependency graph",
		Long: `Build the dependency graph of the project and print it.

Formats:
  text  - each file followed by the files it imports
  json  - nodes, edges, warnings and build stats
  dot   - Graphviz digraph

A diagnostic summary is written to stderr unless --json is set.

Examples:
  depgraph graph
  depgraph graph --format dot | dot -Tsvg > deps.svg
  depgraph graph --json`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOutput {
				format = formatJSON
			}
			return validFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			return c.printGraph(snap, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, dot")
	return cmd
}

// build runs one rebuild, saving it when storage is enabled.
func (c *cli) build(ctx context.Context) (*pipeline.Snapshot, error) {
	rebuilder, err := c.newRebuilder()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()
	if store != nil {
		defer rebuilder.Subscribe(store.SaveOnPublish(ctx))()
	}
	return rebuilder.Request(ctx, c.cfg.Settings())
}

func (c *cli) printGraph(snap *pipeline.Snapshot, format string) error {
	g := snap.Graph()
	root := g.Root()

	switch format {
	case formatJSON:
		return writeJSON(c.stdout, snap)
	case formatDOT:
		writeDOT(c.stdout, root, "", g.Nodes(), g.Edges())
	default:
		writeText(c.stdout, root, g.Nodes(), g.Edges())
	}
	c.printSummary(snap)
	return nil
}

// printSummary writes the warnings and the diagnostic summary of snap.
func (c *cli) printSummary(snap *pipeline.Snapshot) {
	res := snap.Result
	printWarnings(c.printer, res.Root, res.Warnings)
	c.printer.Summary("Diagnostics", diagnosticRows(
		snap.Graph().NodeCount(),
		snap.Graph().EdgeCount(),
		res.Diagnostics(),
		res.Duration,
	))
}
