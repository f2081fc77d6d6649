// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command depgraph lists source files, builds their import dependency
// graph and serves neighborhoods of it.
//
// Usage:
//
//	depgraph files                      # eligible files
//	depgraph graph --format dot         # whole graph
//	depgraph neighborhood src/a.ts      # focus view, depth 1
//	depgraph watch                      # rebuild on change
//	depgraph serve                      # HTTP + websocket API
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/depgraph/pkg/ux"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Set by -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		p := ux.NewPrinter(stderr, modeFor(stderr))
		if walker.IsConfigurationError(err) {
			p.Error(err.Error())
			return 1
		}
		p.Error(fmt.Sprintf("depgraph: %v", err))
		return 1
	}
	return 0
}

// modeFor picks styled output only for terminals.
func modeFor(w io.Writer) ux.Mode {
	if f, ok := w.(*os.File); ok {
		return ux.DetectMode(f)
	}
	return ux.ModePlain
}
