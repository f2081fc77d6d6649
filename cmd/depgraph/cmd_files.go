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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// filesOutput is the JSON form of `depgraph files`.
type filesOutput struct {
	Root       string              `json:"root"`
	Extensions []string            `json:"extensions"`
	Files      []walker.FileRecord `json:"files"`
	Warnings   []diag.Warning      `json:"warnings"`
}

func (c *cli) newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List eligible source files",
		Long: `List every file under the root whose extension is allowed and
whose directories are not excluded, one root-relative path per line.

Examples:
  depgraph files
  depgraph files --ext py --exclude venv
  depgraph files --json | jq '.files[].path'`,
		Args: cobra.NoArgs,
		RunE: c.runFiles,
	}
}

func (c *cli) runFiles(cmd *cobra.Command, args []string) error {
	rebuilder, err := c.newRebuilder()
	if err != nil {
		return err
	}
	settings := c.cfg.Settings()
	scan, err := rebuilder.Engine().ListFiles(cmd.Context(), settings.Root, settings.Extensions, settings.Excludes)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return writeJSON(c.stdout, filesOutput{
			Root:       scan.Root,
			Extensions: scan.Extensions,
			Files:      nonNil(scan.Files),
			Warnings:   nonNil(scan.Warnings),
		})
	}

	for _, f := range scan.Files {
		fmt.Fprintln(c.stdout, relPath(scan.Root, f.Path))
	}
	if len(scan.Warnings) > 0 {
		printWarnings(c.printer, scan.Root, scan.Warnings)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
