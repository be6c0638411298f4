package websocket

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Maximum message size allowed from peer
const maxMessageSize = 4096

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID string

	conn *websocket.Conn

	// Buffered channel of outbound messages, closed by the hub
	send chan []byte

	hub    *Hub
	logger *logrus.Logger

	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	mu sync.RWMutex
	// entity subscriptions; empty means all entities
	entities map[string]bool
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	// same-host connections are always accepted
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return false
}

// ServeWS upgrades the request and attaches a new client to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         h,
		logger:      h.logger,
		UserAgent:   r.Header.Get("User-Agent"),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		entities:    make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for ServeWS
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	pongWait := c.hub.config.PongTimeout
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.recordReceived()
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	writeWait := c.hub.config.WriteTimeout
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal WebSocket message")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.Subscribe(stringList(msg.Data["entity_ids"])...)
	case MessageTypeUnsubscribe:
		c.Unsubscribe(stringList(msg.Data["entity_ids"])...)
	case MessageTypePing:
		pong := Message{Type: MessageTypePong, Data: map[string]interface{}{}}
		c.hub.deliver(c, pong.ToJSON())
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

// Subscribe narrows delivery to the given entities
func (c *Client) Subscribe(entityIDs ...string) {
	c.mu.Lock()
	for _, id := range entityIDs {
		c.entities[id] = true
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"client_id":  c.ID,
		"entity_ids": entityIDs,
	}).Debug("Client subscribed to entities")
}

// Unsubscribe removes entities from the subscription set
func (c *Client) Unsubscribe(entityIDs ...string) {
	c.mu.Lock()
	for _, id := range entityIDs {
		delete(c.entities, id)
	}
	c.mu.Unlock()
}

// IsSubscribed reports whether the client receives updates for entityID
func (c *Client) IsSubscribed(entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities) == 0 || c.entities[entityID]
}
