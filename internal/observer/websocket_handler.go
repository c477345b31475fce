package observer

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WebSocketHandler upgrades an HTTP request to a websocket connection
// subscribed to one draft's events, mirroring the teacher's
// WebSocketHandler (welcome control message, per-connection
// read/write pumps).
type WebSocketHandler struct {
	hub    *WebSocketHub
	logger *logger.Logger
}

func NewWebSocketHandler(hub *WebSocketHub, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: log}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	draftID := r.URL.Query().Get("draftId")
	client := newWSClient(draftID)
	h.hub.register <- client

	welcome := map[string]any{
		"type":      "control",
		"message":   "connected to mysteryforge run stream",
		"clientId":  client.id,
		"draftId":   draftID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if err := conn.WriteJSON(welcome); err != nil {
		h.logger.Warn("failed to write websocket welcome message", "error", err)
	}

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to detect client-initiated close; this stream
// is one-directional (server -> client), so every read is discarded.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, c *wsClient) {
	defer func() {
		h.hub.unregister <- c
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
