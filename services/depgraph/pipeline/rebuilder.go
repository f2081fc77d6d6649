// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Settings selects what a rebuild scans.
type Settings struct {
	// Root is the project root.
	Root string `json:"root"`

	// Extensions is the allow-list.
	Extensions []string `json:"extensions"`

	// Excludes are the excluded directory fragments.
	Excludes []string `json:"excludes"`
}

// Normalize canonicalizes the root and the allow-list.
//
// Outputs:
//
//	Settings - The normalized copy.
//	error - *walker.ConfigurationError for an unusable root.
func (s Settings) Normalize() (Settings, error) {
	root, err := walker.CanonicalRoot(s.Root)
	if err != nil {
		return Settings{}, err
	}
	var excludes []string
	for _, frag := range s.Excludes {
		if frag = strings.TrimSpace(frag); frag != "" {
			excludes = append(excludes, frag)
		}
	}
	return Settings{
		Root:       root,
		Extensions: filter.NormalizeExtensions(s.Extensions),
		Excludes:   excludes,
	}, nil
}

// Equal reports whether two normalized settings select the same files.
func (s Settings) Equal(other Settings) bool {
	return s.Root == other.Root &&
		slices.Equal(s.Extensions, other.Extensions) &&
		slices.Equal(s.Excludes, other.Excludes)
}

func (s Settings) key() string {
	return s.Root + "\x00" + strings.Join(s.Extensions, ",") + "\x00" + strings.Join(s.Excludes, ",")
}

// Snapshot is a complete, published rebuild.
type Snapshot struct {
	// Seq is the sequence number of the request that produced it.
	Seq uint64 `json:"seq"`

	// RunID identifies the rebuild in logs.
	RunID string `json:"run_id"`

	// Settings are the normalized settings of the request.
	Settings Settings `json:"settings"`

	// Result is the build outcome.
	Result *BuildResult `json:"result"`

	// PublishedAt is when the snapshot became visible.
	PublishedAt time.Time `json:"published_at"`
}

// Graph returns the snapshot's graph.
func (s *Snapshot) Graph() *graph.Graph {
	if s == nil || s.Result == nil {
		return nil
	}
	return s.Result.Graph
}

// Listener is called after every publish with the new snapshot.
type Listener func(*Snapshot)

// RebuilderOption is a functional option for configuring a Rebuilder.
type RebuilderOption func(*Rebuilder)

// WithRebuilderLogger sets the logger.
func WithRebuilderLogger(logger *slog.Logger) RebuilderOption {
	return func(r *Rebuilder) {
		r.logger = logger
	}
}

// Rebuilder publishes the result of the most recently requested rebuild.
//
// Description:
//
//	Every Request takes the next sequence number and cancels the rebuild
//	in flight. A finished rebuild is published only if its sequence number
//	is still the latest; otherwise it is dropped and counted as stale.
//	Readers see either the previous snapshot or the new one, never a
//	partial build.
//
// Thread Safety: All methods are safe for concurrent use.
type Rebuilder struct {
	engine *Engine
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	settings Settings

	current atomic.Pointer[Snapshot]
	stale   atomic.Uint64
	flight  singleflight.Group

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	// notifyMu serializes listener calls; notified is the highest seq
	// delivered so far.
	notifyMu sync.Mutex
	notified uint64
}

// NewRebuilder creates a Rebuilder driving engine.
func NewRebuilder(engine *Engine, opts ...RebuilderOption) *Rebuilder {
	r := &Rebuilder{
		engine:    engine,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Engine returns the engine behind the rebuilder.
func (r *Rebuilder) Engine() *Engine { return r.engine }

// Current returns the published snapshot, if any.
func (r *Rebuilder) Current() (*Snapshot, bool) {
	snap := r.current.Load()
	return snap, snap != nil
}

// Seq returns the latest requested sequence number.
func (r *Rebuilder) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Settings returns the settings of the latest request.
func (r *Rebuilder) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Stale returns how many rebuilds were dropped as superseded.
func (r *Rebuilder) Stale() uint64 { return r.stale.Load() }

// Subscribe registers fn to run after every publish. The returned
// function removes it.
//
// Listeners are called one publish at a time in increasing Seq order; a
// snapshot overtaken by a newer one before delivery is never delivered.
// A listener must not call Request or Restore synchronously.
func (r *Rebuilder) Subscribe(fn Listener) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Restore publishes snap when nothing has been published yet. It is used
// to serve a persisted graph before the first rebuild completes.
//
// Outputs:
//
//	bool - True when snap was published.
func (r *Rebuilder) Restore(snap *Snapshot) bool {
	if snap == nil || snap.Result == nil {
		return false
	}
	r.mu.Lock()
	if r.current.Load() != nil {
		r.mu.Unlock()
		return false
	}
	if snap.Seq > r.seq {
		r.seq = snap.Seq
	}
	if r.settings.Root == "" {
		r.settings = snap.Settings
	}
	r.current.Store(snap)
	r.mu.Unlock()

	r.notify(snap)
	return true
}

// Request rebuilds with settings and publishes the result.
//
// Description:
//
//	Cancels any rebuild in flight. When the walk yields the same files
//	and fingerprints under the same settings as the published snapshot,
//	the build is skipped and the published snapshot is returned.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	settings - What to scan.
//
// Outputs:
//
//	*Snapshot - The published (or unchanged) snapshot.
//	error - ErrSuperseded when a newer request arrived first,
//	        *walker.ConfigurationError, or the context error.
func (r *Rebuilder) Request(ctx context.Context, settings Settings) (*Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	norm, err := settings.Normalize()
	if err != nil {
		rebuildTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.seq++
	seq := r.seq
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.settings = norm
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.seq == seq {
			r.cancel = nil
		}
		r.mu.Unlock()
		cancel()
	}()

	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID), slog.Uint64("seq", seq))
	start := time.Now()

	snap, outcome, err := r.run(runCtx, seq, runID, norm)

	rebuildTotal.WithLabelValues(outcome).Inc()
	rebuildDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	switch outcome {
	case outcomePublished:
		logger.Info("rebuild published",
			slog.String("root", norm.Root),
			slog.Int("nodes", snap.Result.Stats.Nodes),
			slog.Int("edges", snap.Result.Stats.Edges),
		)
	case outcomeUnchanged:
		logger.Debug("rebuild skipped, files unchanged", slog.String("root", norm.Root))
	case outcomeSuperseded:
		logger.Debug("rebuild superseded", slog.String("root", norm.Root))
	default:
		logger.Warn("rebuild failed", slog.String("root", norm.Root), slog.String("error", err.Error()))
	}
	return snap, err
}

func (r *Rebuilder) run(ctx context.Context, seq uint64, runID string, s Settings) (*Snapshot, string, error) {
	ctx, span := startPipelineSpan(ctx, "Rebuilder.Request", s.Root)
	defer span.End()

	scan, err := r.engine.ListFiles(ctx, s.Root, s.Extensions, s.Excludes)
	if err != nil {
		return r.fail(seq, err)
	}

	if cur := r.current.Load(); cur != nil && cur.Settings.Equal(s) && cur.Result.Scan.SameFiles(scan) {
		if !r.isLatest(seq) {
			return r.fail(seq, ErrSuperseded)
		}
		return cur, outcomeUnchanged, nil
	}

	result, err := r.engine.BuildGraph(ctx, scan.Root, scan)
	if err != nil {
		return r.fail(seq, err)
	}

	r.mu.Lock()
	if r.seq != seq {
		r.mu.Unlock()
		r.stale.Add(1)
		return nil, outcomeSuperseded, ErrSuperseded
	}
	snap := &Snapshot{
		Seq:         seq,
		RunID:       runID,
		Settings:    s,
		Result:      result,
		PublishedAt: time.Now(),
	}
	r.current.Store(snap)
	r.mu.Unlock()

	publishedSeq.Set(float64(seq))
	r.notify(snap)
	return snap, outcomePublished, nil
}

// fail classifies err: a rebuild that is no longer the latest is
// superseded whatever made it stop.
func (r *Rebuilder) fail(seq uint64, err error) (*Snapshot, string, error) {
	if !r.isLatest(seq) || errors.Is(err, ErrSuperseded) {
		r.stale.Add(1)
		return nil, outcomeSuperseded, ErrSuperseded
	}
	return nil, outcomeFailed, err
}

func (r *Rebuilder) isLatest(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq == seq
}

// GetOrBuild returns the published snapshot when it was built with the
// same settings, and otherwise requests a rebuild. Concurrent calls with
// the same settings share one rebuild.
func (r *Rebuilder) GetOrBuild(ctx context.Context, settings Settings) (*Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	norm, err := settings.Normalize()
	if err != nil {
		return nil, err
	}
	if cur := r.current.Load(); cur != nil && cur.Settings.Equal(norm) {
		return cur, nil
	}

	v, err, _ := r.flight.Do(norm.key(), func() (interface{}, error) {
		return r.Request(ctx, norm)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Refresh repeats the latest request. It is what file watchers call.
func (r *Rebuilder) Refresh(ctx context.Context) (*Snapshot, error) {
	settings := r.Settings()
	if settings.Root == "" {
		return nil, ErrNoSnapshot
	}
	return r.Request(ctx, settings)
}

func (r *Rebuilder) notify(snap *Snapshot) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if snap.Seq < r.notified {
		return
	}
	r.notified = snap.Seq

	r.listenersMu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
