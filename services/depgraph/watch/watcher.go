// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch turns file system events under a project root into
// debounced rebuild requests.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 200 * time.Millisecond

// ErrNilFilter is returned when no filter is given.
var ErrNilFilter = errors.New("filter must not be nil")

// Op is the kind of a file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the string representation of the Op.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one relevant file system event.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler receives a debounced batch of changes, one per path.
type Handler func(changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch is delivered.
	Debounce time.Duration

	// BufferSize bounds pending changes. Overflowing changes are dropped
	// but still trigger the batch.
	BufferSize int

	// Logger receives watcher errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:   DefaultDebounce,
		BufferSize: 1000,
	}
}

// Watcher watches every allowed directory under a root.
//
// Thread Safety: Start and Stop are safe for concurrent use.
type Watcher struct {
	root     string
	filter   *filter.Filter
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	changes  chan Change
	overflow chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// New creates a Watcher for the tree under f.Root().
//
// Inputs:
//
//	f - Decides which directories are watched and which files matter.
//	handler - Called from the watcher goroutine with each batch.
//	opts - Nil uses DefaultOptions().
func New(f *filter.Filter, handler Handler, opts *Options) (*Watcher, error) {
	if f == nil {
		return nil, ErrNilFilter
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = DefaultOptions().BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     f.Root(),
		filter:   f,
		watcher:  fw,
		handler:  handler,
		debounce: debounce,
		logger:   logger,
		changes:  make(chan Change, buffer),
		overflow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the tree and delivers batches until ctx ends or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching and waits for the goroutines to exit. A pending
// batch is delivered first.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if err := w.watcher.Close(); err != nil {
			w.logger.Debug("closing watcher", slog.String("error", err.Error()))
		}

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether Start has run and Stop has not.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.filter.AllowsDir(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("cannot watch directory",
				slog.String("dir", path),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// relevant reports whether an event at path can change the graph: an
// eligible file, or a directory that the filter does not prune.
func (w *Watcher) relevant(path string, op fsnotify.Op) bool {
	if !w.filter.AllowsDir(filepath.Dir(path)) {
		return false
	}
	if w.filter.IsEligible(path) {
		return true
	}
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		// The path is gone; it may have been a directory.
		return filepath.Ext(path) == "" && w.filter.AllowsDir(path)
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir() && w.filter.AllowsDir(path)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name, event.Op) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Debug("watching new directory", slog.String("error", err.Error()))
					}
				}
			}

			change := Change{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				select {
				case w.overflow <- struct{}{}:
				default:
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var batch []Change
	overflowed := false
	var timer *time.Timer
	var timerC <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}
	flush := func() {
		if (len(batch) > 0 || overflowed) && w.handler != nil {
			w.handler(Dedupe(batch))
		}
		batch = batch[:0]
		overflowed = false
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			arm()
		case <-w.overflow:
			overflowed = true
			arm()
		case <-timerC:
			flush()
		}
	}
}

// Dedupe keeps the last change per path, in first-seen order.
func Dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if idx, ok := seen[c.Path]; ok {
			out[idx] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

// RefreshHandler returns a Handler that asks r to rebuild after every
// batch. Superseded rebuilds are expected while edits keep arriving.
func RefreshHandler(ctx context.Context, r *pipeline.Rebuilder, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(changes []Change) {
		logger.Debug("files changed", slog.Int("changes", len(changes)))
		if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, pipeline.ErrSuperseded) && ctx.Err() == nil {
			logger.Warn("rebuild after file change failed", slog.String("error", err.Error()))
		}
	}
}
