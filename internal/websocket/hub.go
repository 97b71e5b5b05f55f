package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"stepcount-be/internal/pkg/logger"
)

// Hub fans workflow progress out to the operator UI. Connections are keyed
// by workflow context id; one context may have several open tabs.
type Hub struct {
	// Registered clients map: ContextID -> List of Clients
	clients map[string][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Redis connection for cross-instance fan-out (nil = single instance)
	rdb *redis.Client

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ContextID] = append(h.clients[client.ContextID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"context_id": client.ContextID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ContextID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.ContextID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.ContextID]) == 0 {
					delete(h.clients, client.ContextID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers an event to every connection watching the context, locally
// and, when clustered, on the other instances via Redis.
func (h *Hub) Send(contextID, eventType string, payload interface{}) {
	data, _ := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": payload,
	})

	h.mu.RLock()
	clients := h.clients[contextID]
	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client send buffer full, dropping message", map[string]interface{}{"context_id": contextID})
			close(client.Send)
			h.unregister <- client
		}
	}
	h.mu.RUnlock()

	if h.rdb != nil {
		envelope, _ := json.Marshal(map[string]interface{}{
			"target_context_id": contextID,
			"message":           json.RawMessage(data),
		})
		h.rdb.Publish(context.Background(), "workflow_events", envelope)
	}
}

func (h *Hub) subscribeToRedis() {
	// Every instance subscribes to the shared channel and delivers to the
	// contexts it holds locally.
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, "workflow_events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload struct {
			TargetContextID string          `json:"target_context_id"`
			Message         json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Printf("Redis msg parse error: %v", err)
			continue
		}

		h.mu.RLock()
		clients := h.clients[payload.TargetContextID]
		for _, client := range clients {
			select {
			case client.Send <- payload.Message:
			default:
				close(client.Send)
				h.unregister <- client
			}
		}
		h.mu.RUnlock()
	}
}
