// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/depgraph/services/depgraph/diag"
	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// recordVersion is bumped whenever the encoded record changes shape.
const recordVersion = 1

const snapshotPrefix = "snapshot/"

// Sentinel errors for the snapshot store.
var (
	// ErrPathRequired is returned when a persistent database has no path.
	ErrPathRequired = errors.New("path is required for persistent database")

	// ErrNotFound is returned when no snapshot is stored for a root.
	ErrNotFound = errors.New("snapshot not found")

	// ErrVersionMismatch is returned for records written by another version.
	ErrVersionMismatch = errors.New("snapshot record version mismatch")

	// ErrNilSnapshot is returned when saving a nil or empty snapshot.
	ErrNilSnapshot = errors.New("snapshot must not be nil")
)

// record is the stored form of a pipeline.Snapshot. Per-file references
// are not stored; they are only needed while building.
type record struct {
	Version  int               `json:"version"`
	Seq      uint64            `json:"seq"`
	RunID    string            `json:"run_id"`
	Settings pipeline.Settings `json:"settings"`
	Scan     *walker.Result    `json:"scan"`
	Graph    graph.Data        `json:"graph"`
	Warnings []diag.Warning    `json:"warnings"`
	Stats    graph.BuildStats  `json:"stats"`
	Duration time.Duration     `json:"duration_ns"`
	SavedAt  time.Time         `json:"saved_at"`
}

// SnapshotStore keeps the last published snapshot of each root.
//
// Thread Safety: Safe for concurrent use.
type SnapshotStore struct {
	db     *DB
	logger *slog.Logger
}

// NewSnapshotStore creates a store on db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, logger: db.logger}
}

func snapshotKey(root string) []byte {
	return []byte(snapshotPrefix + root)
}

// Save stores snap under its root, replacing any earlier snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *pipeline.Snapshot) error {
	if snap == nil || snap.Result == nil || snap.Result.Graph == nil {
		return ErrNilSnapshot
	}
	rec := record{
		Version:  recordVersion,
		Seq:      snap.Seq,
		RunID:    snap.RunID,
		Settings: snap.Settings,
		Scan:     snap.Result.Scan,
		Graph:    snap.Result.Graph.Data(),
		Warnings: snap.Result.Warnings,
		Stats:    snap.Result.Stats,
		Duration: snap.Result.Duration,
		SavedAt:  time.Now().UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	root := snap.Result.Root
	if err := s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(root), value)
	}); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", root, err)
	}

	s.logger.Debug("snapshot saved",
		slog.String("root", root),
		slog.Uint64("seq", snap.Seq),
		slog.Int("bytes", len(value)),
	)
	return nil
}

// Load returns the stored snapshot of root.
//
// Outputs:
//
//	*pipeline.Snapshot - The snapshot with a frozen graph. References
//	                     are not restored.
//	error - ErrNotFound, ErrVersionMismatch, or a decoding error.
func (s *SnapshotStore) Load(ctx context.Context, root string) (*pipeline.Snapshot, error) {
	var value []byte
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(root))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", root, err)
	}

	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", root, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, rec.Version, recordVersion)
	}
	g, err := graph.FromData(rec.Graph)
	if err != nil {
		return nil, fmt.Errorf("decode graph for %s: %w", root, err)
	}

	return &pipeline.Snapshot{
		Seq:      rec.Seq,
		RunID:    rec.RunID,
		Settings: rec.Settings,
		Result: &pipeline.BuildResult{
			Root:     rec.Graph.Root,
			Scan:     rec.Scan,
			Graph:    g,
			Warnings: rec.Warnings,
			Stats:    rec.Stats,
			Duration: rec.Duration,
		},
		PublishedAt: rec.SavedAt,
	}, nil
}

// Delete removes the snapshot of root. Deleting a missing root is not
// an error.
func (s *SnapshotStore) Delete(ctx context.Context, root string) error {
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(root))
	})
}

// Roots lists every root with a stored snapshot, sorted.
func (s *SnapshotStore) Roots(ctx context.Context) ([]string, error) {
	var roots []string
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			roots = append(roots, strings.TrimPrefix(string(it.Item().Key()), snapshotPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(roots)
	return roots, nil
}

// SaveOnPublish returns a pipeline.Listener that saves every published
// snapshot. Failures are logged; they never affect the rebuild.
func (s *SnapshotStore) SaveOnPublish(ctx context.Context) pipeline.Listener {
	return func(snap *pipeline.Snapshot) {
		if err := s.Save(ctx, snap); err != nil {
			s.logger.Warn("persisting snapshot failed", slog.String("error", err.Error()))
		}
	}
}
