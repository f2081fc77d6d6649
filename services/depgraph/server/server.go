// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes a pipeline.Rebuilder over HTTP and a websocket
// push channel.
//
// The server owns no graph state. Every response is derived from the
// rebuilder's published snapshot, and every rebuild goes through the
// rebuilder so supersession rules hold for HTTP, websocket and file
// watcher requests alike.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/telemetry"
)

// ErrNilRebuilder is returned by New without a rebuilder.
var ErrNilRebuilder = errors.New("rebuilder must not be nil")

const shutdownTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// ServiceName names the otelgin spans.
	ServiceName string

	// Defaults are the settings used before anything was requested.
	Defaults pipeline.Settings

	// Depth is the neighborhood depth when a request gives none.
	Depth int

	// RebuildRate limits rebuild and listing requests per second. 0
	// disables the limit.
	RebuildRate float64

	// RebuildBurst is the limiter burst.
	RebuildBurst int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the depgraph HTTP server.
type Server struct {
	cfg         Config
	rebuilder   *pipeline.Rebuilder
	handlers    *Handlers
	router      *gin.Engine
	logger      *slog.Logger
	unsubscribe func()
}

// New creates a server for rebuilder and subscribes it to publishes.
//
// Outputs:
//
//	*Server - Call Close when done to stop pushing snapshots.
//	error - ErrNilRebuilder.
func New(rebuilder *pipeline.Rebuilder, cfg Config, opts ...Option) (*Server, error) {
	if rebuilder == nil {
		return nil, ErrNilRebuilder
	}
	s := &Server{cfg: cfg, rebuilder: rebuilder, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cfg.ServiceName == "" {
		s.cfg.ServiceName = "depgraph"
	}

	s.handlers = NewHandlers(rebuilder, s.cfg, s.logger)
	s.unsubscribe = rebuilder.Subscribe(s.handlers.publish)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.cfg.ServiceName))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, s.handlers)
	s.router = router
	return s, nil
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine { return s.router }

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int { return s.handlers.hub.count() }

// Run serves until ctx is done, then shuts down gracefully.
//
// Outputs:
//
//	error - Nil after a graceful shutdown, or the listen error.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting depgraph server", slog.String("address", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down depgraph server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.handlers.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close stops pushing snapshots and disconnects websocket clients.
func (s *Server) Close() {
	s.unsubscribe()
	s.handlers.hub.closeAll()
}
