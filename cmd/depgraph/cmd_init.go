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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/config"
)

func (c *cli) newInitCmd() *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to the project root",
		Long: `Write .depgraph.yaml (or .depgraph.toml with --format toml) to the
project root with the default settings. --ext, --exclude and
--concurrency are recorded when given.

Examples:
  depgraph init
  depgraph init --root ./web --ext ts --ext tsx
  depgraph init --format toml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			switch format {
			case "yaml":
				name = ".depgraph.yaml"
			case "toml":
				name = ".depgraph.toml"
			default:
				return fmt.Errorf("unknown config format %q (want yaml or toml)", format)
			}

			dir := c.cfg.Root
			if dir == "" {
				dir = "."
			}
			path := filepath.Join(dir, name)
			if !force {
				if existing, ok := config.Discover(dir); ok {
					return fmt.Errorf("%s already exists (use --force to overwrite)", existing)
				}
			}

			// Root stays empty so the file resolves against its own directory.
			out := config.Default()
			flags := cmd.Flags()
			if flags.Changed("ext") {
				out.Extensions = c.cfg.Extensions
			}
			if flags.Changed("exclude") {
				out.Excludes = c.cfg.Excludes
			}
			if flags.Changed("concurrency") {
				out.Concurrency = c.cfg.Concurrency
			}
			if err := config.Save(path, out); err != nil {
				return err
			}
			c.printer.Success("wrote " + path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Config format: yaml or toml")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
