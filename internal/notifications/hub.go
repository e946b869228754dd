package notifications

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/habitloop/engine/internal/logging"
)

// WSHub fans out notifications to connected WebSocket clients. It satisfies
// Subscriber so it can register itself with a Service.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*websocket.Conn
	nextID   int
}

// NewWSHub builds an empty hub, accepting connections from any origin.
func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// ID identifies the hub as a single Subscriber to the Service.
func (h *WSHub) ID() string { return "ws-hub" }

// Send implements Subscriber by broadcasting n to every connected client.
func (h *WSHub) Send(n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := WebSocketMessage{Type: "notification", Payload: n}
	for id, conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			logging.Warn("dropping websocket client %s: %v", id, err)
			go h.remove(id)
		}
	}
	return nil
}

// HandleWebSocket upgrades the request and registers the connection until it
// closes or a read fails.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "could not upgrade connection", http.StatusBadRequest)
		return
	}

	id := h.register(conn)
	defer h.remove(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) register(conn *websocket.Conn) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := fmt.Sprintf("client-%d", h.nextID)
	h.clients[id] = conn
	return id
}

func (h *WSHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.clients[id]; ok {
		conn.Close()
		delete(h.clients, id)
	}
}

// ClientCount reports how many WebSocket clients are currently connected.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
