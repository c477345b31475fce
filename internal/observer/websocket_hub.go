package observer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
)

// wsClient is one connected websocket subscriber. send is buffered so
// a slow reader never blocks the hub's broadcast loop.
type wsClient struct {
	id      string
	draftID string
	send    chan []byte
}

// WebSocketHub fans broadcast messages out to every registered
// client, filtering by draft id, the same register/unregister/
// broadcast channel shape as the teacher's hub.
type WebSocketHub struct {
	clients    map[string]*wsClient
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan hubMessage
	logger     *logger.Logger
	mu         sync.RWMutex
}

type hubMessage struct {
	draftID string
	payload []byte
}

// NewWebSocketHub builds a hub and starts its run loop in the
// background.
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[string]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan hubMessage, 256),
		logger:     log,
	}
	go h.run()
	return h
}

func (h *WebSocketHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if msg.draftID != "" && c.draftID != msg.draftID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warn("dropping websocket message to slow client", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast fans payload out to every client subscribed to draftID
// (or every client, if draftID is empty).
func (h *WebSocketHub) Broadcast(draftID string, payload []byte) {
	h.broadcast <- hubMessage{draftID: draftID, payload: payload}
}

// ClientCount reports how many clients are currently connected.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newWSClient(draftID string) *wsClient {
	return &wsClient{id: uuid.New().String(), draftID: draftID, send: make(chan []byte, 64)}
}
