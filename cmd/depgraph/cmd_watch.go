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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
)

func (c *cli) newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the graph whenever files change",
		Long: `Build the graph, then rebuild it after every burst of file changes
until interrupted. Each published rebuild prints a one-line summary, or a
JSON snapshot per line with --json.

Examples:
  depgraph watch
  depgraph watch --debounce 500ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("debounce") {
				debounce = c.cfg.Watch.Debounce.Duration
			}
			ctx := cmd.Context()

			rebuilder, err := c.newRebuilder()
			if err != nil {
				return err
			}
			store, closeStore, err := c.openStore()
			if err != nil {
				return err
			}
			defer closeStore()
			if store != nil {
				defer rebuilder.Subscribe(store.SaveOnPublish(ctx))()
			}
			defer rebuilder.Subscribe(c.reportPublish)()

			sup := newWatchSupervisor(rebuilder, debounce, c.logger)
			defer rebuilder.Subscribe(sup.onPublish)()

			if _, err := rebuilder.Request(ctx, c.cfg.Settings()); err != nil {
				return err
			}
			sup.run(ctx)
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before rebuilding (default from config)")
	return cmd
}

// reportPublish prints one line per published snapshot.
func (c *cli) reportPublish(snap *pipeline.Snapshot) {
	if c.jsonOutput {
		if err := writeJSONLine(c.stdout, snap); err != nil {
			c.logger.Warn("writing snapshot", "error", err)
		}
		return
	}
	sum := snap.Result.Diagnostics()
	fmt.Fprintf(c.stdout, "#%d %s files=%d edges=%d warnings=%d took=%s\n",
		snap.Seq,
		snap.PublishedAt.Format(time.TimeOnly),
		snap.Graph().NodeCount(),
		snap.Graph().EdgeCount(),
		sum.Total,
		snap.Result.Duration.Round(time.Millisecond),
	)
}
