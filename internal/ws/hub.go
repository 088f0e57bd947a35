package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

// Hub maintains the set of connected result consumers (chat-surface
// processes) and pushes generation results to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // consumerID → Client
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ConsumerID] = c
	h.mu.Unlock()
	log.Printf("[hub] consumer %s connected (total: %d)", c.ConsumerID, h.ClientCount())
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ConsumerID)
	h.mu.Unlock()
	log.Printf("[hub] consumer %s disconnected (total: %d)", c.ConsumerID, h.ClientCount())
}

// ClientCount returns the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastResult pushes a generation result to all connected consumers.
// Delivery here is best-effort; the Redis results list remains the durable
// at-least-once path.
func (h *Hub) BroadcastResult(result *model.GenerationResult) {
	env := model.Envelope{
		Type:    model.MsgTypeResult,
		Payload: result,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[hub] marshal result error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[hub] send buffer full for consumer %s, dropping", c.ConsumerID)
		}
	}
}
