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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/pkg/logging"
	"github.com/AleutianAI/depgraph/pkg/ux"
	"github.com/AleutianAI/depgraph/services/depgraph/config"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/storage"
	"github.com/AleutianAI/depgraph/services/depgraph/telemetry"
)

// cli holds the global flags and the state resolved from them before a
// subcommand runs.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath  string
	root        string
	exts        []string
	excludes    []string
	concurrency int
	jsonOutput  bool
	logLevel    string

	// Resolved in PersistentPreRunE
	cfg       config.Config
	log       *logging.Logger
	logger    *slog.Logger
	printer   *ux.Printer
	telemetry func(context.Context) error
}

// newRootCmd builds the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "depgraph",
		Short: "Source file dependency graphs",
		Long: `depgraph walks a project, extracts the import references of every
eligible source file and builds a file-level dependency graph.

Configuration is read from --config, or from .depgraph.yaml, .depgraph.yml
or .depgraph.toml in the project root. Flags override file values.

Examples:
  depgraph files --ext ts --ext tsx
  depgraph graph --format dot > deps.dot
  depgraph neighborhood src/app.ts --depth 2
  depgraph serve`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Config file (YAML or TOML)")
	flags.StringVar(&c.root, "root", "", "Project root (default: config root or .)")
	flags.StringSliceVar(&c.exts, "ext", nil, "Allowed file extension, repeatable")
	flags.StringSliceVar(&c.excludes, "exclude", nil, "Excluded directory fragment, repeatable")
	flags.IntVar(&c.concurrency, "concurrency", 0, "Parallel extraction workers (0 = one per CPU)")
	flags.BoolVar(&c.jsonOutput, "json", false, "Output as JSON for scripting")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		c.newFilesCmd(),
		c.newGraphCmd(),
		c.newNeighborhoodCmd(),
		c.newWatchCmd(),
		c.newServeCmd(),
		c.newInitCmd(),
		c.newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and starts logging
// and telemetry.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	c.log = logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Log.JSON,
		LogDir:  cfg.Log.Dir,
		Service: "depgraph",
		Output:  c.stderr,
	})
	c.logger = c.log.Slog()
	c.printer = ux.NewPrinter(c.stderr, modeFor(c.stderr))

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.telemetry = shutdown
	return nil
}

func (c *cli) teardown(ctx context.Context) error {
	var err error
	if c.telemetry != nil {
		err = c.telemetry(context.WithoutCancel(ctx))
	}
	if c.log != nil {
		_ = c.log.Close()
	}
	return err
}

// loadConfig reads the config file, when there is one, and applies the
// flags that were set.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	path := c.configPath
	if path == "" {
		dir := c.root
		if dir == "" {
			dir = "."
		}
		if found, ok := config.Discover(dir); ok {
			path = found
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = c.root
	}
	if flags.Changed("ext") {
		cfg.Extensions = c.exts
	}
	if flags.Changed("exclude") {
		cfg.Excludes = c.excludes
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = c.concurrency
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newRebuilder builds the engine and rebuilder selected by the config.
func (c *cli) newRebuilder() (*pipeline.Rebuilder, error) {
	opts, err := c.cfg.EngineOptions(c.logger)
	if err != nil {
		return nil, err
	}
	engine := pipeline.NewEngine(opts...)
	return pipeline.NewRebuilder(engine, pipeline.WithRebuilderLogger(c.logger)), nil
}

// openStore opens the snapshot store when storage is enabled. The
// returned close function is never nil.
func (c *cli) openStore() (*storage.SnapshotStore, func(), error) {
	if !c.cfg.Storage.Enabled {
		return nil, func() {}, nil
	}
	cfg := storage.DefaultConfig(c.cfg.Storage.Path)
	cfg.Logger = c.logger
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open snapshot store: %w", err)
	}
	return storage.NewSnapshotStore(db), func() {
		if err := db.Close(); err != nil {
			c.logger.Warn("closing snapshot store", slog.String("error", err.Error()))
		}
	}, nil
}
