package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/carpool-matching/internal/models"
)

const writeWait = 5 * time.Second

// wsClient is one connected operator feed.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(e models.GroupEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

// WSHub broadcasts group events to connected operator websockets.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{clients: make(map[*wsClient]struct{}), logger: logger}
}

// Add registers conn and blocks reading from it until the peer disconnects.
// Inbound messages are discarded; reading keeps control frames flowing.
func (h *WSHub) Add(conn *websocket.Conn) {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("operator feed connected", "remote_addr", conn.RemoteAddr().String())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.logger.Info("operator feed disconnected")
	}
}

func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish never fails; clients that cannot keep up are dropped.
func (h *WSHub) Publish(_ context.Context, e models.GroupEvent) error {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(e); err != nil {
			h.logger.Warn("operator feed send failed", "error", err)
			h.remove(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *WSHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = c.conn.Close()
	}
}
