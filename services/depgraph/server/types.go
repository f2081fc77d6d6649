// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"encoding/json"
	"time"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// =============================================================================
// REST TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable code, e.g. "INVALID_ROOT".
	Code string `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Seq         uint64 `json:"seq"`
	Stale       uint64 `json:"stale"`
	HasSnapshot bool   `json:"has_snapshot"`
	Root        string `json:"root,omitempty"`
}

// SettingsRequest selects what to scan. Empty fields fall back to the
// settings of the current snapshot, then to the server defaults.
type SettingsRequest struct {
	Root       string   `json:"root"`
	Extensions []string `json:"extensions"`
	Excludes   []string `json:"excludes"`
}

// FilesResponse is returned by POST /files.
type FilesResponse struct {
	Root       string              `json:"root"`
	Extensions []string            `json:"extensions"`
	Files      []walker.FileRecord `json:"files"`
	Warnings   []diag.Warning      `json:"warnings"`
}

// GraphResponse is returned by GET and POST /graph.
type GraphResponse struct {
	Seq         uint64              `json:"seq"`
	RunID       string              `json:"run_id"`
	Settings    pipeline.Settings   `json:"settings"`
	Nodes       []walker.FileRecord `json:"nodes"`
	Edges       []graph.Edge        `json:"edges"`
	Warnings    []diag.Warning      `json:"warnings"`
	Diagnostics diag.Summary        `json:"diagnostics"`
	Stats       graph.BuildStats    `json:"stats"`
	DurationMs  int64               `json:"duration_ms"`
	PublishedAt time.Time           `json:"published_at"`
}

// NeighborhoodResponse is returned by GET /neighborhood.
type NeighborhoodResponse struct {
	Seq uint64 `json:"seq"`
	*graph.Subgraph
}

func newGraphResponse(snap *pipeline.Snapshot) GraphResponse {
	g := snap.Graph()
	resp := GraphResponse{
		Seq:         snap.Seq,
		RunID:       snap.RunID,
		Settings:    snap.Settings,
		Nodes:       g.Nodes(),
		Edges:       g.Edges(),
		Warnings:    snap.Result.Warnings,
		Diagnostics: snap.Result.Diagnostics(),
		Stats:       snap.Result.Stats,
		DurationMs:  snap.Result.Duration.Milliseconds(),
		PublishedAt: snap.PublishedAt,
	}
	if resp.Warnings == nil {
		resp.Warnings = []diag.Warning{}
	}
	return resp
}

// =============================================================================
// WEBSOCKET TYPES
// =============================================================================

// Websocket commands.
const (
	// CommandSetFilesAndConnections carries a FilesAndConnections after each
	// published rebuild.
	CommandSetFilesAndConnections = "setFilesAndConnections"

	// CommandSetNeighborhood carries a NeighborhoodResponse.
	CommandSetNeighborhood = "setNeighborhood"

	// CommandEditWhitelistSettings carries a new allow-list ([]string) and
	// triggers a rebuild.
	CommandEditWhitelistSettings = "editWhitelistSettings"

	// CommandSetCurrentFile carries a focus path (string) and is answered
	// with setNeighborhood.
	CommandSetCurrentFile = "setCurrentFile"

	// CommandError carries an ErrorResponse.
	CommandError = "error"
)

// Message is one websocket frame in either direction.
type Message struct {
	// Command names the message.
	Command string `json:"command"`

	// Text is the command payload.
	Text json.RawMessage `json:"text,omitempty"`

	// Depth optionally overrides the neighborhood depth of setCurrentFile.
	Depth *int `json:"depth,omitempty"`
}

// FilesAndConnections is the payload of setFilesAndConnections.
type FilesAndConnections struct {
	Seq         uint64              `json:"seq"`
	Root        string              `json:"root"`
	Files       []walker.FileRecord `json:"files"`
	Connections []graph.Edge        `json:"connections"`
	Diagnostics diag.Summary        `json:"diagnostics"`
}

func newMessage(command string, payload any) (Message, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Command: command, Text: text}, nil
}

func filesAndConnections(snap *pipeline.Snapshot) FilesAndConnections {
	g := snap.Graph()
	return FilesAndConnections{
		Seq:         snap.Seq,
		Root:        g.Root(),
		Files:       g.Nodes(),
		Connections: g.Edges(),
		Diagnostics: snap.Result.Diagnostics(),
	}
}
