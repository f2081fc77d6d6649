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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/depgraph/services/depgraph/graph"
	"github.com/AleutianAI/depgraph/services/depgraph/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scenarioRoot writes a.ts -> b.ts -> lib/c.ts plus an excluded
// node_modules/x.ts.
func scenarioRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	for rel, content := range map[string]string{
		"a.ts":              "import { b } from './b';\n",
		"b.ts":              "import c from '../lib/c';\n",
		"lib/c.ts":          "export const c = 1;\n",
		"node_modules/x.ts": "import './a';\n",
	} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func newTestServer(t *testing.T, root string, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Defaults: pipeline.Settings{Root: root, Extensions: []string{"ts"}, Excludes: []string{"node_modules"}},
		Depth:    1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(pipeline.NewRebuilder(pipeline.NewEngine()), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func scenarioEdges(root string) []graph.Edge {
	return []graph.Edge{
		{From: filepath.Join(root, "a.ts"), To: filepath.Join(root, "b.ts")},
		{From: filepath.Join(root, "b.ts"), To: filepath.Join(root, "lib", "c.ts")},
	}
}

func TestNew_NilRebuilder(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, ErrNilRebuilder)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, scenarioRoot(t), nil)

	rec := do(t, s, http.MethodGet, "/v1/depgraph/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.HasSnapshot)
}

func TestHandleGetGraph_NoSnapshot(t *testing.T) {
	s := newTestServer(t, scenarioRoot(t), nil)

	rec := do(t, s, http.MethodGet, "/v1/depgraph/graph", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_SNAPSHOT", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodGet, "/v1/depgraph/neighborhood?focus=a.ts", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRebuild_Scenario(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)

	rec := do(t, s, http.MethodPost, "/v1/depgraph/graph", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := decode[GraphResponse](t, rec)
	assert.Equal(t, uint64(1), resp.Seq)
	require.Len(t, resp.Nodes, 3)
	assert.Equal(t, filepath.Join(root, "a.ts"), resp.Nodes[0].Path)
	assert.Equal(t, "lib/c", resp.Nodes[2].DisplayLabel)
	assert.Equal(t, scenarioEdges(root), resp.Edges)
	assert.Equal(t, 0, resp.Diagnostics.Total)

	rec = do(t, s, http.MethodGet, "/v1/depgraph/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[GraphResponse](t, rec)
	assert.Equal(t, resp.Seq, again.Seq)
	assert.Equal(t, resp.Edges, again.Edges)

	health := decode[HealthResponse](t, do(t, s, http.MethodGet, "/v1/depgraph/health", ""))
	assert.True(t, health.HasSnapshot)
	assert.Equal(t, root, health.Root)
}

func TestHandleRebuild_RequestIDEchoed(t *testing.T) {
	s := newTestServer(t, scenarioRoot(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/depgraph/graph", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestHandleRebuild_Errors(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)

	rec := do(t, s, http.MethodPost, "/v1/depgraph/graph", `{"root": "`+filepath.Join(root, "missing")+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ROOT", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodPost, "/v1/depgraph/graph", `{"root": "`+filepath.Join(root, "a.ts")+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/depgraph/graph", `{"root": 7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, rec).Code)
}

func TestHandleFiles(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)

	rec := do(t, s, http.MethodPost, "/v1/depgraph/files", `{"extensions": [".ts"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[FilesResponse](t, rec)
	assert.Equal(t, root, resp.Root)
	require.Len(t, resp.Files, 3)
	for _, f := range resp.Files {
		assert.NotContains(t, f.Path, "node_modules")
	}

	// Listing does not publish.
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/depgraph/graph", "").Code)

	rec = do(t, s, http.MethodPost, "/v1/depgraph/files", `{"extensions": ["py"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[FilesResponse](t, rec).Files)
}

func TestHandleNeighborhood(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/depgraph/graph", "").Code)

	tests := []struct {
		name  string
		query string
		nodes int
		edges int
	}{
		{"relative focus depth 1", "focus=b.ts&depth=1", 3, 2},
		{"default depth", "focus=lib/c.ts", 2, 1},
		{"absolute focus", "focus=" + filepath.Join(root, "a.ts") + "&depth=1", 2, 1},
		{"depth 0 is the whole graph", "focus=a.ts&depth=0", 3, 2},
		{"main view", "depth=0", 3, 2},
		{"missing focus", "focus=nope.ts&depth=1", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/v1/depgraph/neighborhood?"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[NeighborhoodResponse](t, rec)
			require.NotNil(t, resp.Subgraph)
			assert.Len(t, resp.Nodes, tt.nodes)
			assert.Len(t, resp.Edges, tt.edges)
			assert.Equal(t, uint64(1), resp.Seq)
		})
	}

	rec := do(t, s, http.MethodGet, "/v1/depgraph/neighborhood?focus=a.ts&depth=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_DEPTH", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, scenarioRoot(t), func(c *Config) {
		c.RebuildRate = 0.001
		c.RebuildBurst = 1
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/depgraph/graph", "").Code)
	rec := do(t, s, http.MethodPost, "/v1/depgraph/graph", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, rec).Code)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/depgraph/graph", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, scenarioRoot(t), nil)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "depgraph_ws_clients")
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/depgraph/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, command string, payload any, depth *int) {
	t.Helper()
	text, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Command: command, Text: text, Depth: depth}))
}

func receive(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func decodeText[T any](t *testing.T, msg Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(msg.Text)).Decode(&v))
	return v
}

func TestWebSocket_Protocol(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn := dial(t, srv)

	send(t, conn, CommandSetCurrentFile, "a.ts", nil)
	msg := receive(t, conn)
	require.Equal(t, CommandError, msg.Command)
	assert.Equal(t, "NO_SNAPSHOT", decodeText[ErrorResponse](t, msg).Code)

	send(t, conn, CommandEditWhitelistSettings, []string{"ts", "tsx"}, nil)
	msg = receive(t, conn)
	require.Equal(t, CommandSetFilesAndConnections, msg.Command)
	fc := decodeText[FilesAndConnections](t, msg)
	assert.Equal(t, root, fc.Root)
	assert.Len(t, fc.Files, 3)
	assert.Equal(t, scenarioEdges(root), fc.Connections)

	// Same allow-list again: nothing changes on disk, so the answer comes
	// straight back without a publish.
	send(t, conn, CommandEditWhitelistSettings, []string{"ts", "tsx"}, nil)
	msg = receive(t, conn)
	require.Equal(t, CommandSetFilesAndConnections, msg.Command)
	assert.Equal(t, fc.Seq, decodeText[FilesAndConnections](t, msg).Seq)

	send(t, conn, CommandSetCurrentFile, "lib/c.ts", nil)
	msg = receive(t, conn)
	require.Equal(t, CommandSetNeighborhood, msg.Command)
	nb := decodeText[NeighborhoodResponse](t, msg)
	assert.Equal(t, filepath.Join(root, "lib", "c.ts"), nb.Focus)
	assert.Len(t, nb.Nodes, 2)

	zero := 0
	send(t, conn, CommandSetCurrentFile, "lib/c.ts", &zero)
	msg = receive(t, conn)
	require.Equal(t, CommandSetNeighborhood, msg.Command)
	assert.Len(t, decodeText[NeighborhoodResponse](t, msg).Nodes, 3)

	send(t, conn, "openFile", "a.ts", nil)
	msg = receive(t, conn)
	require.Equal(t, CommandError, msg.Command)
	assert.Equal(t, "UNKNOWN_COMMAND", decodeText[ErrorResponse](t, msg).Code)
}

func TestWebSocket_PushOnConnectAndPublish(t *testing.T) {
	root := scenarioRoot(t)
	s := newTestServer(t, root, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/depgraph/graph", "").Code)

	conn := dial(t, srv)
	msg := receive(t, conn)
	require.Equal(t, CommandSetFilesAndConnections, msg.Command)
	assert.Equal(t, uint64(1), decodeText[FilesAndConnections](t, msg).Seq)
	assert.Eventually(t, func() bool { return s.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "d.ts"), []byte("import './a';\n"), 0644))
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/depgraph/graph", "").Code)

	msg = receive(t, conn)
	require.Equal(t, CommandSetFilesAndConnections, msg.Command)
	fc := decodeText[FilesAndConnections](t, msg)
	assert.Equal(t, uint64(2), fc.Seq)
	assert.Len(t, fc.Files, 4)

	s.Close()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}
