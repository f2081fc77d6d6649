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
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/server"
	"github.com/AleutianAI/depgraph/services/depgraph/storage"
)

func (c *cli) newServeCmd() *cobra.Command {
	var (
		addr    string
		noWatch bool
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph over HTTP and websocket",
		Long: `Serve the dependency graph under /v1/depgraph and push every
published rebuild to websocket clients. The graph is rebuilt when files
change unless --no-watch is set.

With storage enabled the last stored graph is served immediately while
the first rebuild runs.

Endpoints:
  GET  /v1/depgraph/health
  POST /v1/depgraph/files
  POST /v1/depgraph/graph
  GET  /v1/depgraph/graph
  GET  /v1/depgraph/neighborhood?focus=&depth=
  GET  /v1/depgraph/ws
  GET  /metrics

Examples:
  depgraph serve
  depgraph serve --addr 0.0.0.0:8790 --no-watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Server.Addr = addr
			}
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			return c.serve(cmd.Context(), !noWatch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not rebuild on file changes")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode")
	return cmd
}

func (c *cli) serve(ctx context.Context, watchFiles bool) error {
	settings, err := c.cfg.Settings().Normalize()
	if err != nil {
		return err
	}
	rebuilder, err := c.newRebuilder()
	if err != nil {
		return err
	}
	store, closeStore, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := server.New(rebuilder, server.Config{
		Addr:         c.cfg.Server.Addr,
		ServiceName:  c.cfg.Telemetry.ServiceName,
		Defaults:     settings,
		Depth:        c.cfg.Depth,
		RebuildRate:  c.cfg.Server.RebuildRate,
		RebuildBurst: c.cfg.Server.RebuildBurst,
	}, server.WithLogger(c.logger))
	if err != nil {
		return err
	}
	defer srv.Close()

	// Deferred in this order so background work is cancelled and finished
	// before the store closes.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if watchFiles {
		sup := newWatchSupervisor(rebuilder, c.cfg.Watch.Debounce.Duration, c.logger)
		defer rebuilder.Subscribe(sup.onPublish)()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.run(ctx)
		}()
	}

	if store != nil {
		c.restore(ctx, store, rebuilder, settings.Root)
		defer rebuilder.Subscribe(store.SaveOnPublish(ctx))()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := rebuilder.Request(ctx, settings); err != nil && ctx.Err() == nil &&
			!errors.Is(err, pipeline.ErrSuperseded) {
			c.logger.Warn("initial rebuild failed", slog.String("error", err.Error()))
		}
	}()

	return srv.Run(ctx)
}

// restore publishes the stored snapshot of root, if any.
func (c *cli) restore(ctx context.Context, store *storage.SnapshotStore, r *pipeline.Rebuilder, root string) {
	snap, err := store.Load(ctx, root)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("loading stored graph", slog.String("error", err.Error()))
		}
		return
	}
	if r.Restore(snap) {
		c.logger.Info("serving stored graph",
			slog.Uint64("seq", snap.Seq),
			slog.Int("files", snap.Graph().NodeCount()))
	}
}
