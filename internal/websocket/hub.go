package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/sirupsen/logrus"
)

// Config holds connection timing and origin policy
type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = (c.PongTimeout * 9) / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

type outbound struct {
	data []byte
	// entityID restricts delivery to clients watching that entity; empty means everyone
	entityID string
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	// closed when Run returns
	done chan struct{}

	logger  *logrus.Logger
	metrics metrics.MetricsCollector
	config  Config

	mu    sync.RWMutex
	stats HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub. collector may be nil.
func NewHub(logger *logrus.Logger, config Config, collector metrics.MetricsCollector) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    collector,
		config:     config.withDefaults(),
		stats:      HubStats{LastActivity: time.Now()},
	}
}

// Run handles registration and broadcasting until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-ticker.C:
			h.sendHeartbeat()

		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection("connect")
	}

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": count,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	h.deliver(client, welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection("disconnect")
	}
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": count,
	}).Info("WebSocket client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.stats.ConnectedClients = 0
}

// broadcastMessage runs on the hub goroutine, so slow clients are dropped directly
func (h *Hub) broadcastMessage(msg outbound) {
	h.mu.RLock()
	var slow []*Client
	sent := 0
	for client := range h.clients {
		if msg.entityID != "" && !client.IsSubscribed(msg.entityID) {
			continue
		}
		select {
		case client.send <- msg.data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.WithField("client_id", client.ID).Warn("WebSocket client send buffer full, disconnecting")
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent += int64(sent)
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"message_size": len(msg.data),
		"clients_sent": sent,
		"entity_id":    msg.entityID,
	}).Debug("Message broadcasted to WebSocket clients")
}

// deliver queues data for one client if it is still registered
func (h *Hub) deliver(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) sendHeartbeat() {
	heartbeat := Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{
			"clients": h.GetClientCount(),
		},
	}
	h.BroadcastToAll(heartbeat)
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel is full, message dropped")
	}
}

// BroadcastToAll broadcasts a message to all connected clients
func (h *Hub) BroadcastToAll(message Message) {
	h.enqueue(outbound{data: message.ToJSON()})
}

// PublishState pushes an entity state to every client watching the entity
func (h *Hub) PublishState(state entities.State) {
	h.enqueue(outbound{data: EntityStateMessage(state).ToJSON(), entityID: state.EntityID})
}

// PublishEntryStatus pushes a config entry lifecycle change to all clients
func (h *Hub) PublishEntryStatus(entryID, state, lastError string) {
	h.BroadcastToAll(EntryStatusMessage(entryID, state, lastError))
}

func (h *Hub) recordReceived() {
	h.mu.Lock()
	h.stats.MessagesReceived++
	h.mu.Unlock()
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ConnectedClients = len(h.clients)
	return stats
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetClientByID returns a client by its ID, or nil if not found
func (h *Hub) GetClientByID(clientID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return client
		}
	}

	return nil
}
