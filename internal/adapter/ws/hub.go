// Package ws implements the WebSocket adapter for the signal channel.
// Signals are lightweight notifications; clients pull missing content
// over HTTP after receiving one.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// clientCommand is what a connected client may send: a subscription change.
type clientCommand struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
}

// conn wraps a single WebSocket connection and its context subscriptions.
// A connection that never subscribes receives every signal.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	mu       sync.Mutex
	watching map[uuid.UUID]struct{}
	watchAll bool
}

func (c *conn) wants(contextID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchAll {
		return true
	}
	_, ok := c.watching[contextID]
	return ok
}

func (c *conn) subscribe(contextID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchAll = false
	c.watching[contextID] = struct{}{}
}

func (c *conn) unsubscribe(contextID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watching, contextID)
}

// Hub manages all active WebSocket connections and broadcasts signals.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS returns an http.HandlerFunc that upgrades connections to WebSocket.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		ws:       ws,
		cancel:   cancel,
		watching: make(map[uuid.UUID]struct{}),
		watchAll: true,
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop: consumes subscription commands and detects disconnects.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			id, err := uuid.Parse(cmd.ContextID)
			if err != nil {
				continue
			}
			switch cmd.Type {
			case "subscribe":
				c.subscribe(id)
			case "unsubscribe":
				c.unsubscribe(id)
			}
		}
	}()
}

// Broadcast sends a signal to every connection watching contextID.
func (h *Hub) Broadcast(ctx context.Context, contextID uuid.UUID, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !c.wants(contextID) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// BroadcastAll sends a signal to every connection regardless of subscriptions.
func (h *Hub) BroadcastAll(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
