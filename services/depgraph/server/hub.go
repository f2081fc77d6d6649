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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// clientBuffer is the number of queued messages per client. A client
	// that falls further behind is disconnected.
	clientBuffer = 16

	writeTimeout = 10 * time.Second
)

// client is one websocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// hub tracks connected websocket clients and fans messages out to them.
//
// Thread Safety: all methods are safe for concurrent use. A client's send
// channel is only written and closed while holding mu.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[*client]struct{}), logger: logger}
}

// register adds conn and starts its writer.
func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Message, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	wsClients.Set(float64(n))
	h.logger.Info("Websocket client connected", slog.String("client_id", c.id))
	go h.writeLoop(c)
	return c
}

// unregister removes c and closes its queue; the writer then closes the
// connection. Safe to call more than once.
func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	wsClients.Set(float64(n))
	h.logger.Info("Websocket client disconnected", slog.String("client_id", c.id))
}

// sendTo queues msg for c, dropping c when its queue is full.
func (h *hub) sendTo(c *client, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(c, msg)
}

// broadcast queues msg for every client.
func (h *hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, msg)
	}
}

func (h *hub) enqueueLocked(c *client, msg Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("Websocket client too slow, disconnecting", slog.String("client_id", c.id))
		delete(h.clients, c)
		close(c.send)
		wsClients.Set(float64(len(h.clients)))
	}
}

// count returns the number of connected clients.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	wsClients.Set(0)
}

func (h *hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Warn("Failed to write websocket message",
				slog.String("client_id", c.id),
				slog.String("command", msg.Command),
				slog.String("error", err.Error()))
			h.unregister(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
