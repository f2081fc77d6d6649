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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/storage"
)

// errStorageDisabled is returned by --cached without storage.
var errStorageDisabled = errors.New("--cached requires storage.enabled in the config")

func (c *cli) newNeighborhoodCmd() *cobra.Command {
	var (
		format string
		depth  int
		cached bool
	)

	cmd := &cobra.Command{
		Use:   "neighborhood FOCUS",
		Short: "Print the files within N imports of a focus file",
		Long: `Print the subgraph of files reachable from FOCUS in at most --depth
hops, following imports in either direction. Depth 0 prints the whole
graph. FOCUS may be absolute or relative to the root.

With --cached the last stored graph is used when it was built with the
same settings. Otherwise the graph is rebuilt.

Examples:
  depgraph neighborhood src/app.ts
  depgraph neighborhood src/app.ts --depth 2 --format dot
  depgraph neighborhood src/app.ts --cached --json`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOutput {
				format = formatJSON
			}
			if !cmd.Flags().Changed("depth") {
				depth = c.cfg.Depth
			}
			if depth < 0 {
				return fmt.Errorf("--depth must be non-negative, got %d", depth)
			}
			if cached && !c.cfg.Storage.Enabled {
				return errStorageDisabled
			}
			return validFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				snap *pipeline.Snapshot
				err  error
			)
			if cached {
				snap, err = c.cachedSnapshot(cmd.Context())
			} else {
				snap, err = c.build(cmd.Context())
			}
			if err != nil {
				return err
			}
			return c.printNeighborhood(snap, args[0], depth, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, dot")
	cmd.Flags().IntVar(&depth, "depth", 1, "Hop bound (0 = whole graph; default from config)")
	cmd.Flags().BoolVar(&cached, "cached", false, "Use the stored graph when it is current")
	return cmd
}

// cachedSnapshot returns the stored snapshot for the configured settings,
// rebuilding (and storing) when there is none or it is out of date.
func (c *cli) cachedSnapshot(ctx context.Context) (*pipeline.Snapshot, error) {
	settings, err := c.cfg.Settings().Normalize()
	if err != nil {
		return nil, err
	}
	rebuilder, err := c.newRebuilder()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()

	loaded, err := store.Load(ctx, settings.Root)
	switch {
	case err == nil:
		rebuilder.Restore(loaded)
	case errors.Is(err, storage.ErrNotFound):
		c.logger.Debug("no stored graph", slog.String("root", settings.Root))
	default:
		return nil, err
	}

	defer rebuilder.Subscribe(store.SaveOnPublish(ctx))()
	return rebuilder.GetOrBuild(ctx, settings)
}

func (c *cli) printNeighborhood(snap *pipeline.Snapshot, focus string, depth int, format string) error {
	g := snap.Graph()
	sub := graph.Project(g, focus, depth)

	switch format {
	case formatJSON:
		return writeJSON(c.stdout, sub)
	case formatDOT:
		writeDOT(c.stdout, g.Root(), sub.Focus, sub.Nodes, sub.Edges)
	default:
		writeText(c.stdout, g.Root(), sub.Nodes, sub.Edges)
	}
	if sub.Empty() && focus != "" {
		c.printer.Warning(fmt.Sprintf("%s is not in the graph", focus))
	}
	return nil
}
