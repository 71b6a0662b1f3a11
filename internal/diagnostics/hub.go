package diagnostics

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub pushes Snapshot updates to connected local debug clients, the same
// register/unregister/broadcast event-loop shape as the donor daemon's
// internal/websocket.MonitorHub — adapted here to push one typed Snapshot
// instead of a generic MonitorEvent.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	broadcast  chan Snapshot
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewHub creates an idle hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Snapshot, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run drives the hub's event loop and never returns; it runs in its own
// goroutine for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case snap := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(snap); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Push queues snap for broadcast to every connected client. Non-blocking:
// a full channel drops the push rather than stall the update cycle that
// triggered it (the next cycle will push a fresher snapshot anyway).
func (h *Hub) Push(snap Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
		log.Printf("diagnostics: push channel full, dropping snapshot")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a WebSocket connection and registers it with the
// hub; the handler itself never writes, it only watches for the client
// going away so it can unregister.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("diagnostics: websocket upgrade: %v", err)
		return
	}
	h.register <- conn
	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
