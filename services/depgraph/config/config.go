// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates depgraph settings from YAML or TOML
// files.
//
// A Config is a plain value passed to the pipeline; nothing here is
// global. Files are decoded over Default(), so a file only needs the
// keys it changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/depgraph/services/depgraph/extract"
	"github.com/AleutianAI/depgraph/services/depgraph/filter"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
	"github.com/AleutianAI/depgraph/services/depgraph/telemetry"
	"github.com/AleutianAI/depgraph/services/depgraph/walker"
)

// Sentinel errors for configuration.
var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnsupportedFormat is returned for files that are not YAML or TOML.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Duration is a time.Duration written as "200ms" or "2s" in files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	// Debounce is the quiet period before a rebuild is requested.
	Debounce Duration `yaml:"debounce" toml:"debounce" json:"debounce"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" toml:"addr" json:"addr" validate:"required,hostname_port"`

	// RebuildRate is the sustained number of rebuild requests per second
	// accepted over HTTP and websocket.
	RebuildRate float64 `yaml:"rebuild_rate" toml:"rebuild_rate" json:"rebuild_rate" validate:"gt=0"`

	// RebuildBurst is the rebuild request burst size.
	RebuildBurst int `yaml:"rebuild_burst" toml:"rebuild_burst" json:"rebuild_burst" validate:"gte=1"`
}

// StorageConfig configures the snapshot store.
type StorageConfig struct {
	// Enabled turns on persistence of published snapshots.
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	// Path is the database directory.
	Path string `yaml:"path" toml:"path" json:"path" validate:"required_if=Enabled true"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json" toml:"json" json:"json"`

	// Dir, when set, receives a dated JSON log file.
	Dir string `yaml:"dir" toml:"dir" json:"dir"`
}

// Config is the complete depgraph configuration.
type Config struct {
	// Root is the project root. Empty means the working directory.
	Root string `yaml:"root" toml:"root" json:"root"`

	// Extensions is the allow-list, with or without leading dots.
	Extensions []string `yaml:"extensions" toml:"extensions" json:"extensions" validate:"dive,extension"`

	// Excludes are directory fragments that prune a subtree.
	Excludes []string `yaml:"excludes" toml:"excludes" json:"excludes" validate:"dive,required"`

	// Depth is the default neighborhood depth. 0 selects the whole graph.
	Depth int `yaml:"depth" toml:"depth" json:"depth" validate:"gte=0"`

	// Concurrency bounds parallel extraction. 0 means one per CPU.
	Concurrency int `yaml:"concurrency" toml:"concurrency" json:"concurrency" validate:"gte=0"`

	// Grammar is "auto" or "lexical".
	Grammar string `yaml:"grammar" toml:"grammar" json:"grammar" validate:"oneof=auto lexical"`

	// Suffixes overrides the resolution suffix order. Nil keeps the
	// default ("" then each allowed extension).
	Suffixes []string `yaml:"suffixes,omitempty" toml:"suffixes,omitempty" json:"suffixes,omitempty"`

	// IndexFiles overrides the directory index candidates.
	IndexFiles []string `yaml:"index_files,omitempty" toml:"index_files,omitempty" json:"index_files,omitempty" validate:"dive,required"`

	// FollowSymlinks follows symbolic links while walking.
	FollowSymlinks bool `yaml:"follow_symlinks" toml:"follow_symlinks" json:"follow_symlinks"`

	// MaxFileSize skips larger files. 0 disables the limit.
	MaxFileSize int64 `yaml:"max_file_size" toml:"max_file_size" json:"max_file_size" validate:"gte=0"`

	// CacheSize is the number of token lists kept between rebuilds.
	CacheSize int `yaml:"cache_size" toml:"cache_size" json:"cache_size" validate:"gte=1"`

	Watch     WatchConfig      `yaml:"watch" toml:"watch" json:"watch"`
	Server    ServerConfig     `yaml:"server" toml:"server" json:"server"`
	Storage   StorageConfig    `yaml:"storage" toml:"storage" json:"storage"`
	Log       LogConfig        `yaml:"log" toml:"log" json:"log"`
	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Extensions:     append([]string(nil), filter.DefaultExtensions...),
		Excludes:       append([]string(nil), filter.DefaultExcludes...),
		Depth:          1,
		Grammar:        string(extract.ModeAuto),
		FollowSymlinks: true,
		MaxFileSize:    walker.DefaultMaxFileSize,
		CacheSize:      extract.DefaultCacheSize,
		Watch:          WatchConfig{Debounce: Duration{200 * time.Millisecond}},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8790",
			RebuildRate:  2,
			RebuildBurst: 4,
		},
		Storage:   StorageConfig{Path: ".depgraph/db"},
		Log:       LogConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("extension", validateExtension)
	return v
}

// validateExtension accepts "ts" or ".ts": one segment, no separators.
func validateExtension(fl validator.FieldLevel) bool {
	ext := strings.TrimPrefix(strings.TrimSpace(fl.Field().String()), ".")
	return ext != "" && !strings.ContainsAny(ext, `/\. `)
}

// Validate checks every field.
//
// Outputs:
//
//	error - Nil, or an error wrapping ErrInvalid naming each bad field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Mode returns the grammar mode. Validate guarantees it parses.
func (c Config) Mode() extract.Mode {
	m, err := extract.ParseMode(c.Grammar)
	if err != nil {
		return extract.ModeAuto
	}
	return m
}

// Settings returns the rebuild settings for the configured root.
func (c Config) Settings() pipeline.Settings {
	root := c.Root
	if root == "" {
		root = "."
	}
	return pipeline.Settings{Root: root, Extensions: c.Extensions, Excludes: c.Excludes}
}

// EngineOptions returns the pipeline options selected by c.
func (c Config) EngineOptions(logger *slog.Logger) ([]pipeline.Option, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := extract.NewTokenCache(c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	opts := []pipeline.Option{
		pipeline.WithMode(c.Mode()),
		pipeline.WithConcurrency(c.Concurrency),
		pipeline.WithTokenCache(cache),
		pipeline.WithWalker(walker.New(
			walker.WithFollowSymlinks(c.FollowSymlinks),
			walker.WithMaxFileSize(c.MaxFileSize),
			walker.WithLogger(logger),
		)),
		pipeline.WithLogger(logger),
	}
	if c.Suffixes != nil || c.IndexFiles != nil {
		opts = append(opts, pipeline.WithResolveOptions(extract.ResolveOptions{
			Suffixes:   c.Suffixes,
			IndexFiles: c.IndexFiles,
		}))
	}
	return opts, nil
}
