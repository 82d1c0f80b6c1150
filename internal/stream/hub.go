// Package stream fans processed mentions out to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/blackmichael/webmentions/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second

	// sendBuffer is the per-client queue. Clients that fall this far behind
	// are dropped rather than stalling the broadcast.
	sendBuffer = 16
)

// mentionEvent is the wire format for one broadcast.
type mentionEvent struct {
	Event   string         `json:"event"`
	Mention mentionSummary `json:"mention"`
}

type mentionSummary struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
	Verified  *bool     `json:"verified"`
	Deleted   bool      `json:"deleted"`
}

// Hub accepts websocket subscribers and broadcasts mention events to them.
// It implements domain.MentionNotifier.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// HandleSubscribe upgrades the request to a websocket and streams mention
// events until the client disconnects.
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("stream subscriber connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	h.readLoop(c)
}

// MentionProcessed broadcasts one processed mention to all subscribers.
// Slow subscribers are dropped; the broadcast never blocks.
func (h *Hub) MentionProcessed(_ context.Context, event string, m *domain.Mention) {
	msg, err := json.Marshal(mentionEvent{
		Event: event,
		Mention: mentionSummary{
			ID:        m.ID,
			Source:    m.Source,
			Target:    m.Target,
			CreatedAt: m.CreatedAt,
			Verified:  m.Verified,
			Deleted:   m.Deleted,
		},
	})
	if err != nil {
		h.logger.Error("encode mention event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow stream subscriber", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readLoop drains the connection so close frames are processed, and
// unregisters the client when it goes away.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
