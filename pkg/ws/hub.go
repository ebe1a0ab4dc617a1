package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection wraps websocket.Conn with metadata.
type Connection struct {
	Conn     *websocket.Conn
	UserKey  string
	LastSeen time.Time
}

// Hub tracks live websocket connections per principal. It is injected into
// the in-app channel adapter; there is no package-level instance.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{} // userKey -> set of connections
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*Connection]struct{}),
		logger:      logger,
	}
}

func makeUserKey(tenantID, principalID string) string {
	return tenantID + "_" + principalID
}

// Add registers a connection for a principal.
func (h *Hub) Add(tenantID, principalID string, conn *websocket.Conn) *Connection {
	userKey := makeUserKey(tenantID, principalID)
	c := &Connection{Conn: conn, UserKey: userKey, LastSeen: time.Now()}

	h.mu.Lock()
	if _, ok := h.connections[userKey]; !ok {
		h.connections[userKey] = make(map[*Connection]struct{})
	}
	h.connections[userKey][c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("ws connected", zap.String("user_key", userKey))
	return c
}

// Remove disconnects and removes a connection.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.connections[c.UserKey]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.UserKey)
		}
	}
	_ = c.Conn.Close()
}

// Send delivers a JSON payload to all connections of a principal and
// reports how many connections received it.
func (h *Hub) Send(tenantID, principalID string, payload any) int {
	userKey := makeUserKey(tenantID, principalID)

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	if conns, ok := h.connections[userKey]; ok {
		for c := range conns {
			if err := c.Conn.WriteJSON(payload); err != nil {
				h.logger.Warn("ws send failed", zap.String("user_key", userKey), zap.Error(err))
				go h.Remove(c)
				continue
			}
			sent++
		}
	}
	return sent
}

// Heartbeat pings all connections periodically and drops stale ones.
func (h *Hub) Heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	for range ticker.C {
		h.mu.RLock()
		for _, conns := range h.connections {
			for c := range conns {
				if time.Since(c.LastSeen) > 2*interval {
					go h.Remove(c)
					continue
				}
				_ = c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			}
		}
		h.mu.RUnlock()
	}
}
