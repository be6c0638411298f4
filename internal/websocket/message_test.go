package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityStateMessage(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := EntityStateMessage(entities.State{
		EntityID:   "P1",
		DeviceID:   "P1",
		Name:       "Desk",
		Platform:   entities.PlatformSwitch,
		Available:  true,
		Attributes: entities.Attributes{"is_on": true},
		UpdatedAt:  &updated,
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.ToJSON(), &decoded))

	assert.Equal(t, MessageTypeEntityState, decoded["type"])
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "P1", data["entity_id"])
	assert.Equal(t, "switch", data["platform"])
	assert.Equal(t, true, data["available"])
	assert.NotContains(t, data, "error")
	assert.Equal(t, true, data["attributes"].(map[string]interface{})["is_on"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func TestEntryStatusMessage(t *testing.T) {
	msg := EntryStatusMessage("e1", "setup_error", "authentication failed")
	assert.Equal(t, MessageTypeEntryStatus, msg.Type)
	assert.Equal(t, "e1", msg.Data["entry_id"])
	assert.Equal(t, "authentication failed", msg.Data["error"])

	msg = EntryStatusMessage("e1", "loaded", "")
	assert.NotContains(t, msg.Data, "error")
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]interface{}{"a", 3.0, "", "b"}))
	assert.Nil(t, stringList("a"))
}
