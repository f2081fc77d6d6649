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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Handlers contains the HTTP and websocket handlers.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	rebuilder *pipeline.Rebuilder
	defaults  pipeline.Settings
	depth     int
	limiter   *rate.Limiter
	hub       *hub
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandlers creates handlers serving rebuilder.
//
// Inputs:
//
//	rebuilder - Owner of the published snapshot.
//	cfg - Defaults, neighborhood depth and rebuild rate limit.
//	logger - Logger; nil uses slog.Default().
func NewHandlers(rebuilder *pipeline.Rebuilder, cfg Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.RebuildBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.RebuildRate)
	if cfg.RebuildRate <= 0 {
		limit = rate.Inf
	}
	return &Handlers{
		rebuilder: rebuilder,
		defaults:  cfg.Defaults,
		depth:     cfg.Depth,
		limiter:   rate.NewLimiter(limit, burst),
		hub:       newHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleHealth handles GET /v1/depgraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status: "healthy",
		Seq:    h.rebuilder.Seq(),
		Stale:  h.rebuilder.Stale(),
	}
	if snap, ok := h.rebuilder.Current(); ok {
		resp.HasSnapshot = true
		resp.Root = snap.Settings.Root
	}
	c.JSON(http.StatusOK, resp)
}

// HandleFiles handles POST /v1/depgraph/files.
//
// Description:
//
//	Lists the eligible files for the requested settings without building
//	a graph or publishing anything.
//
// Request Body:
//
//	SettingsRequest (optional)
//
// Response:
//
//	200 OK: FilesResponse
//	400 Bad Request: Invalid body or unusable root
//	429 Too Many Requests: Rebuild rate exceeded
func (h *Handlers) HandleFiles(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleFiles")

	req, ok := h.bindSettings(c, logger)
	if !ok {
		return
	}
	if !h.allow(c, "files") {
		return
	}

	settings := h.settingsFor(req)
	scan, err := h.rebuilder.Engine().ListFiles(c.Request.Context(), settings.Root, settings.Extensions, settings.Excludes)
	if err != nil {
		status, code := errorStatus(err)
		logger.Warn("List files failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Listed files", "root", scan.Root, "files", len(scan.Files))
	c.JSON(http.StatusOK, FilesResponse{
		Root:       scan.Root,
		Extensions: scan.Extensions,
		Files:      scan.Files,
		Warnings:   scan.Warnings,
	})
}

// HandleRebuild handles POST /v1/depgraph/graph.
//
// Description:
//
//	Requests a rebuild and waits for it. A newer request arriving first
//	makes this one fail with 409.
//
// Request Body:
//
//	SettingsRequest (optional)
//
// Response:
//
//	200 OK: GraphResponse
//	400 Bad Request: Invalid body or unusable root
//	409 Conflict: Superseded by a newer rebuild
//	429 Too Many Requests: Rebuild rate exceeded
func (h *Handlers) HandleRebuild(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRebuild")

	req, ok := h.bindSettings(c, logger)
	if !ok {
		return
	}
	if !h.allow(c, "graph") {
		return
	}

	snap, err := h.rebuilder.Request(c.Request.Context(), h.settingsFor(req))
	if err != nil {
		status, code := errorStatus(err)
		logger.Warn("Rebuild failed", "error", err, "code", code)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Rebuild served", "seq", snap.Seq, "run_id", snap.RunID)
	c.JSON(http.StatusOK, newGraphResponse(snap))
}

// HandleGetGraph handles GET /v1/depgraph/graph.
//
// Response:
//
//	200 OK: GraphResponse for the published snapshot
//	404 Not Found: Nothing published yet
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	snap, ok := h.rebuilder.Current()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: pipeline.ErrNoSnapshot.Error(), Code: "NO_SNAPSHOT"})
		return
	}
	c.JSON(http.StatusOK, newGraphResponse(snap))
}

// HandleNeighborhood handles GET /v1/depgraph/neighborhood.
//
// Query Parameters:
//
//	focus: File path, absolute or root-relative. Empty selects the whole graph.
//	depth: Hop bound (optional, default from config). 0 selects the whole graph.
//
// Response:
//
//	200 OK: NeighborhoodResponse (empty when focus is not in the graph)
//	400 Bad Request: Invalid depth
//	404 Not Found: Nothing published yet
func (h *Handlers) HandleNeighborhood(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleNeighborhood")

	depth := h.depth
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			logger.Warn("Invalid depth", "depth", raw)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "depth must be a non-negative integer",
				Code:  "INVALID_DEPTH",
			})
			return
		}
		depth = d
	}

	snap, ok := h.rebuilder.Current()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: pipeline.ErrNoSnapshot.Error(), Code: "NO_SNAPSHOT"})
		return
	}

	c.JSON(http.StatusOK, h.neighborhood(snap, c.Query("focus"), depth))
}

// HandleWebSocket handles GET /v1/depgraph/ws.
//
// Description:
//
//	Upgrades to a websocket. The client receives setFilesAndConnections
//	on connect (when a snapshot exists) and after every publish. It may
//	send editWhitelistSettings and setCurrentFile.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	cl := h.hub.register(conn)
	defer h.hub.unregister(cl)

	if snap, ok := h.rebuilder.Current(); ok {
		h.push(cl, CommandSetFilesAndConnections, filesAndConnections(snap))
	}

	ctx := c.Request.Context()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.handleMessage(ctx, cl, msg)
	}
}

func (h *Handlers) handleMessage(ctx context.Context, cl *client, msg Message) {
	logger := h.logger.With("client_id", cl.id, "command", msg.Command)

	switch msg.Command {
	case CommandEditWhitelistSettings:
		var exts []string
		if err := json.Unmarshal(msg.Text, &exts); err != nil {
			h.pushError(cl, "text must be a list of extensions", "INVALID_REQUEST")
			return
		}
		if !h.limiter.Allow() {
			rateLimited.WithLabelValues("ws").Inc()
			h.pushError(cl, "rebuild rate exceeded", "RATE_LIMITED")
			return
		}
		prev, _ := h.rebuilder.Current()
		snap, err := h.rebuilder.Request(ctx, h.settingsFor(SettingsRequest{Extensions: exts}))
		if err != nil {
			if errors.Is(err, pipeline.ErrSuperseded) {
				return
			}
			_, code := errorStatus(err)
			logger.Warn("Rebuild failed", "error", err)
			h.pushError(cl, err.Error(), code)
			return
		}
		// A published snapshot reaches every client through the listener;
		// an unchanged one is answered directly.
		if snap == prev {
			h.push(cl, CommandSetFilesAndConnections, filesAndConnections(snap))
		}

	case CommandSetCurrentFile:
		var focus string
		if err := json.Unmarshal(msg.Text, &focus); err != nil {
			h.pushError(cl, "text must be a file path", "INVALID_REQUEST")
			return
		}
		depth := h.depth
		if msg.Depth != nil {
			if *msg.Depth < 0 {
				h.pushError(cl, "depth must be a non-negative integer", "INVALID_DEPTH")
				return
			}
			depth = *msg.Depth
		}
		snap, ok := h.rebuilder.Current()
		if !ok {
			h.pushError(cl, pipeline.ErrNoSnapshot.Error(), "NO_SNAPSHOT")
			return
		}
		h.push(cl, CommandSetNeighborhood, h.neighborhood(snap, focus, depth))

	default:
		logger.Debug("Unknown websocket command")
		h.pushError(cl, "unknown command "+strconv.Quote(msg.Command), "UNKNOWN_COMMAND")
	}
}

// publish is the rebuilder listener that pushes each snapshot to every
// connected client.
func (h *Handlers) publish(snap *pipeline.Snapshot) {
	msg, err := newMessage(CommandSetFilesAndConnections, filesAndConnections(snap))
	if err != nil {
		h.logger.Error("Failed to encode snapshot", "seq", snap.Seq, "error", err)
		return
	}
	h.hub.broadcast(msg)
}

func (h *Handlers) neighborhood(snap *pipeline.Snapshot, focus string, depth int) NeighborhoodResponse {
	sub := h.rebuilder.Engine().ProjectNeighborhood(snap.Graph(), focus, depth)
	return NeighborhoodResponse{Seq: snap.Seq, Subgraph: sub}
}

func (h *Handlers) push(cl *client, command string, payload any) {
	msg, err := newMessage(command, payload)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", "command", command, "error", err)
		return
	}
	h.hub.sendTo(cl, msg)
}

func (h *Handlers) pushError(cl *client, message, code string) {
	h.push(cl, CommandError, ErrorResponse{Error: message, Code: code})
}

// settingsFor fills the empty fields of req from the latest request, or
// from the defaults before anything was requested.
func (h *Handlers) settingsFor(req SettingsRequest) pipeline.Settings {
	s := h.rebuilder.Settings()
	if s.Root == "" {
		s = h.defaults
	}
	if req.Root != "" {
		s.Root = req.Root
	}
	if req.Extensions != nil {
		s.Extensions = req.Extensions
	}
	if req.Excludes != nil {
		s.Excludes = req.Excludes
	}
	if s.Root == "" {
		s.Root = "."
	}
	return s
}

// bindSettings decodes an optional SettingsRequest body.
func (h *Handlers) bindSettings(c *gin.Context, logger *slog.Logger) (SettingsRequest, bool) {
	var req SettingsRequest
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return SettingsRequest{}, false
	}
	return req, true
}

func (h *Handlers) allow(c *gin.Context, surface string) bool {
	if h.limiter.Allow() {
		return true
	}
	rateLimited.WithLabelValues(surface).Inc()
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error: "rebuild rate exceeded",
		Code:  "RATE_LIMITED",
	})
	return false
}

// errorStatus maps a pipeline error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case walker.IsConfigurationError(err):
		return http.StatusBadRequest, "INVALID_ROOT"
	case errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict, "SUPERSEDED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "REBUILD_FAILED"
	}
}

// getOrCreateRequestID returns the X-Request-ID header, generating one
// when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
