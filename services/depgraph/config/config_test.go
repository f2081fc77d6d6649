// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/services/depgraph/extract"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Depth)
	assert.Equal(t, extract.ModeAuto, cfg.Mode())
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce.Duration)
	assert.Equal(t, ".", cfg.Settings().Root)
}

func TestValidate_RejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative depth", func(c *Config) { c.Depth = -1 }, "Depth"},
		{"unknown grammar", func(c *Config) { c.Grammar = "yacc" }, "Grammar"},
		{"path as extension", func(c *Config) { c.Extensions = []string{"src/ts"} }, "Extensions"},
		{"empty exclude", func(c *Config) { c.Excludes = []string{""} }, "Excludes"},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }, "CacheSize"},
		{"bad addr", func(c *Config) { c.Server.Addr = "nowhere" }, "Addr"},
		{"zero rate", func(c *Config) { c.Server.RebuildRate = 0 }, "RebuildRate"},
		{"storage without path", func(c *Config) { c.Storage = StorageConfig{Enabled: true} }, "Path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }, "TraceExporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AcceptsDottedAndBareExtensions(t *testing.T) {
	cfg := Default()
	cfg.Extensions = []string{".ts", "py"}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".depgraph.yaml", `
root: src
extensions: [ts, .tsx]
depth: 2
grammar: lexical
watch:
  debounce: 50ms
server:
  addr: 0.0.0.0:9000
storage:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "src"), cfg.Root)
	assert.Equal(t, []string{"ts", ".tsx"}, cfg.Extensions)
	assert.Equal(t, 2, cfg.Depth)
	assert.Equal(t, extract.ModeLexical, cfg.Mode())
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce.Duration)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, float64(2), cfg.Server.RebuildRate, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, ".depgraph", "db"), cfg.Storage.Path)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".depgraph.toml", `
root = "/abs/project"
excludes = ["vendor"]
concurrency = 3

[watch]
debounce = "1s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/abs/project", cfg.Root)
	assert.Equal(t, []string{"vendor"}, cfg.Excludes)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, time.Second, cfg.Watch.Debounce.Duration)
}

func TestLoad_EmptyYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yml", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Extensions, cfg.Extensions)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "c.json", "{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(writeFile(t, dir, "typo.yaml", "extensionz: [ts]\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "typo.toml", "extensionz = [\"ts\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extensionz")

	_, err = Load(writeFile(t, dir, "bad.yaml", "depth: -3\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeFile(t, dir, "dur.yaml", "watch:\n  debounce: soon\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	_, ok := Discover(dir)
	assert.False(t, ok)

	writeFile(t, dir, ".depgraph.toml", "")
	writeFile(t, dir, ".depgraph.yml", "")
	path, ok := Discover(dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, ".depgraph.yml"), path)
}

func TestSave_LoadsBack(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := Default()
			cfg.Depth = 4
			cfg.Watch.Debounce = Duration{time.Second}

			path := filepath.Join(dir, "nested", name)
			require.NoError(t, Save(path, cfg))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 4, loaded.Depth)
			assert.Equal(t, time.Second, loaded.Watch.Debounce.Duration)
			assert.Equal(t, cfg.Extensions, loaded.Extensions)
		})
	}

	assert.ErrorIs(t, Save(filepath.Join(t.TempDir(), "x.ini"), Default()), ErrUnsupportedFormat)
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.EngineOptions(nil)
	require.NoError(t, err)
	base := len(opts)

	cfg.Suffixes = []string{"", ".ts"}
	opts, err = cfg.EngineOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, base+1)
}
