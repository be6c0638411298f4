package handlers

import (
	"net/http"
	"strings"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/integration"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/utils"
	"github.com/gin-gonic/gin"
)

// GetEntities lists entity states. Optional filters: platform, entry_id, available_only.
func (h *Handlers) GetEntities(c *gin.Context) {
	platform := c.Query("platform")
	entryID := c.Query("entry_id")
	availableOnly := c.Query("available_only") == "true"

	all := h.service.Entities()
	result := make([]integration.EntityState, 0, len(all))
	for _, e := range all {
		if platform != "" && string(e.Platform) != platform {
			continue
		}
		if entryID != "" && e.EntryID != entryID {
			continue
		}
		if availableOnly && !e.Available {
			continue
		}
		result = append(result, e)
	}

	meta := gin.H{"count": len(result), "available_only": availableOnly}
	if platform != "" {
		meta["platform"] = platform
	}
	utils.SendSuccessWithMeta(c, result, meta)
}

// GetEntity returns the state of one entity
func (h *Handlers) GetEntity(c *gin.Context) {
	state, err := h.service.Entity(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, state)
}

// SendEntityCommand sends a command through an entity.
// The body is {"command": "turnOn", "command_type": "command", "parameters": "default"}.
func (h *Handlers) SendEntityCommand(c *gin.Context) {
	var cmd devices.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(cmd.Name) == "" {
		utils.SendError(c, http.StatusBadRequest, "command is required")
		return
	}

	state, err := h.service.SendCommand(c.Request.Context(), c.Param("id"), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, state)
}
