/*
 * Copyright 2025 The OverlayBridge Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dispatch

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/overlaybridge/overlaybridge/pkg/logger"
)

const (
	// Per-connection outbound buffer. A consumer that falls this far behind
	// starts losing events rather than blocking the dispatching service.
	sendBufferSize = 64

	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Overlays are served cross-origin from the local network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub is a WebSocket fan-out Dispatcher. Overlay pages attach to a surface
// name and receive every event dispatched to that surface.
type Hub struct {
	mu       sync.RWMutex
	surfaces map[string]map[string]*conn
	closed   bool
	log      zerolog.Logger
}

type conn struct {
	id      string
	surface string
	ws      *websocket.Conn
	send    chan []byte
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		surfaces: make(map[string]map[string]*conn),
		log:      log.WithComponent("dispatch"),
	}
}

// Dispatch implements Dispatcher. Events for surfaces with no attached
// consumers are dropped silently.
func (h *Hub) Dispatch(surface, eventName string, payload json.RawMessage) {
	frame, err := json.Marshal(Event{EventName: eventName, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", eventName).Msg("failed to encode event frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.surfaces[surface] {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; drop the event for this connection.
			h.log.Debug().Str("surface", surface).Str("conn", c.id).Msg("dropping event for slow consumer")
		}
	}
}

// Attach upgrades the request to a WebSocket and subscribes it to surface
// until the peer disconnects.
func (h *Hub) Attach(surface string, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("surface", surface).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:      uuid.New().String(),
		surface: surface,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()

		return
	}

	if h.surfaces[surface] == nil {
		h.surfaces[surface] = make(map[string]*conn)
	}

	h.surfaces[surface][c.id] = c
	h.mu.Unlock()

	h.log.Info().Str("surface", surface).Str("conn", c.id).Msg("overlay attached")

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop drains the connection's send channel. It exits when the channel
// is closed by detach.
func (h *Hub) writeLoop(c *conn) {
	for frame := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.log.Debug().Err(err).Str("conn", c.id).Msg("overlay write failed")
			break
		}
	}

	_ = c.ws.Close()
}

// readLoop consumes control frames and detects disconnects. Overlays never
// send application data; anything received is discarded.
func (h *Hub) readLoop(c *conn) {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			break
		}
	}

	h.detach(c)
}

func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.surfaces[c.surface]
	if _, ok := conns[c.id]; !ok {
		return
	}

	delete(conns, c.id)

	if len(conns) == 0 {
		delete(h.surfaces, c.surface)
	}

	close(c.send)

	h.log.Info().Str("surface", c.surface).Str("conn", c.id).Msg("overlay detached")
}

// Close detaches every connection. Dispatches after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for surface, conns := range h.surfaces {
		for _, c := range conns {
			close(c.send)
		}

		delete(h.surfaces, surface)
	}
}
