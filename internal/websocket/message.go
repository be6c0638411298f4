package websocket

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
)

// Message types for WebSocket communication
const (
	MessageTypeConnection  = "connection"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypeEntityState = "entity_state"
	MessageTypeEntryStatus = "entry_status"

	// Client requests
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// EntityStateMessage wraps a rendered entity state
func EntityStateMessage(state entities.State) Message {
	data := map[string]interface{}{
		"entity_id":  state.EntityID,
		"device_id":  state.DeviceID,
		"name":       state.Name,
		"platform":   state.Platform,
		"available":  state.Available,
		"stale":      state.Stale,
		"attributes": state.Attributes,
	}
	if state.Error != "" {
		data["error"] = state.Error
	}
	if state.UpdatedAt != nil {
		data["updated_at"] = state.UpdatedAt.UTC()
	}
	return Message{Type: MessageTypeEntityState, Data: data}
}

// EntryStatusMessage reports a config entry lifecycle change
func EntryStatusMessage(entryID, state, lastError string) Message {
	data := map[string]interface{}{
		"entry_id": entryID,
		"state":    state,
	}
	if lastError != "" {
		data["error"] = lastError
	}
	return Message{Type: MessageTypeEntryStatus, Data: data}
}

// stringList extracts a list of strings from a decoded JSON array
func stringList(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
