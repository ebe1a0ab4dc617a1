package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notification-orchestrator/pkg/response"
	"notification-orchestrator/pkg/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are delegated to the CORS layer in front of this
	// service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WsHandler upgrades in-app notification streams onto the hub.
type WsHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

func NewWsHandler(hub *ws.Hub, logger *zap.Logger) *WsHandler {
	return &WsHandler{hub: hub, logger: logger}
}

// Connect handles GET /ws?tenant_id=..&principal_id=..
func (h *WsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	principalID := r.URL.Query().Get("principal_id")
	if tenantID == "" || principalID == "" {
		response.Error(w, http.StatusBadRequest, "tenant_id and principal_id are required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := h.hub.Add(tenantID, principalID, conn)
	go h.readLoop(c)
}

// readLoop drains control frames and keeps LastSeen fresh; clients do not
// send application data on this socket.
func (h *WsHandler) readLoop(c *ws.Connection) {
	defer h.hub.Remove(c)
	c.Conn.SetPongHandler(func(string) error {
		c.LastSeen = time.Now()
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
		c.LastSeen = time.Now()
	}
}
