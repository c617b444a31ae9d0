package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The session token already gates the endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Hub fans duplicate alerts out to connected clients, keyed by network ID.
type Hub struct {
	mu    sync.RWMutex
	conns map[*wsClient]struct{}
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan any
	networks map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*wsClient]struct{})}
}

// Broadcast queues payload for every client subscribed to the network. Slow
// clients are dropped rather than blocking the upload path.
func (h *Hub) Broadcast(networkID string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if _, ok := c.networks[networkID]; !ok {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slog.Warn("websocket client lagging, closing", "network", networkID)
			go c.conn.Close()
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// handleAlertSocket upgrades the connection and streams duplicate alerts for
// every network the caller belongs to, or just one with ?network=<id>.
func (a *API) handleAlertSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessionFrom(r)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	networks, err := a.db.NetworksFor(sess.Principal)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	subs := make(map[string]struct{}, len(networks))
	for _, n := range networks {
		subs[n.ID] = struct{}{}
	}
	if only := r.URL.Query().Get("network"); only != "" {
		if _, member := subs[only]; !member {
			jsonError(w, "network not found or invalid join key", http.StatusForbidden)
			return
		}
		subs = map[string]struct{}{only: {}}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan any, 16),
		networks: subs,
	}
	a.hub.register(client)

	go client.writeLoop()
	client.readLoop(a.hub)
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames until the peer goes away, then tears down.
func (c *wsClient) readLoop(h *Hub) {
	defer func() {
		h.unregister(c)
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
