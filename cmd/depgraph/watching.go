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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/watch"
)

// watchSupervisor keeps one file watcher running for the settings of the
// latest published snapshot. A publish with new settings (a new root or
// allow-list) replaces the watcher.
//
// Watchers are started and stopped only from run, never from a rebuilder
// listener, because listeners can run on a watcher's own goroutine.
type watchSupervisor struct {
	rebuilder *pipeline.Rebuilder
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	updates chan pipeline.Settings
}

func newWatchSupervisor(r *pipeline.Rebuilder, debounce time.Duration, logger *slog.Logger) *watchSupervisor {
	return &watchSupervisor{
		rebuilder: r,
		debounce:  debounce,
		logger:    logger,
		updates:   make(chan pipeline.Settings, 1),
	}
}

// onPublish is the rebuilder listener. It keeps only the newest settings.
func (s *watchSupervisor) onPublish(snap *pipeline.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap.Settings
}

// run starts and replaces watchers until ctx ends, then stops the last.
func (s *watchSupervisor) run(ctx context.Context) {
	var (
		current *watch.Watcher
		active  pipeline.Settings
	)
	defer func() {
		if current != nil {
			current.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case settings := <-s.updates:
			if current != nil && active.Equal(settings) {
				continue
			}
			if current != nil {
				current.Stop()
				current = nil
			}
			w, err := s.start(ctx, settings)
			if err != nil {
				s.logger.Warn("file watcher not started",
					slog.String("root", settings.Root),
					slog.String("error", err.Error()))
				continue
			}
			current, active = w, settings
			s.logger.Info("watching for changes", slog.String("root", settings.Root))
		}
	}
}

func (s *watchSupervisor) start(ctx context.Context, settings pipeline.Settings) (*watch.Watcher, error) {
	f := filter.New(settings.Root, settings.Extensions, settings.Excludes)
	w, err := watch.New(f, watch.RefreshHandler(ctx, s.rebuilder, s.logger), &watch.Options{
		Debounce: s.debounce,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}
