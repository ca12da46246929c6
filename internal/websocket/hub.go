package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event is one status push sent to connected UI clients
type Event struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of connected UI clients and broadcasts terminal
// status events (queued, synced, conflict, connectivity) to all of them.
type Hub struct {
	mu sync.RWMutex

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 32),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("📱 UI client connected (%d active)", h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("📴 UI client disconnected (%d active)", h.clientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead; the reader will unregister it
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Notify broadcasts a status event to every connected client. Implements the
// sync package's Notifier contract.
func (h *Hub) Notify(event string, data interface{}) {
	payload, err := json.Marshal(Event{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Error marshaling event %q: %v", event, err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		// Hub backlog full; drop rather than stall the sync path
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
