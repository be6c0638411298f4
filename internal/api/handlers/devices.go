package handlers

import (
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/utils"
	"github.com/gin-gonic/gin"
)

// GetDevices lists every device with its coordinator status
func (h *Handlers) GetDevices(c *gin.Context) {
	views := h.service.Devices()
	utils.SendSuccessWithMeta(c, views, gin.H{"count": len(views)})
}

// RefreshDevice forces a refresh of one device. The refresh outcome is part
// of the returned status; only an unknown device fails the request.
func (h *Handlers) RefreshDevice(c *gin.Context) {
	view, err := h.service.RefreshDevice(c.Request.Context(), c.Param("id"))
	if view.Device.ID == "" {
		h.fail(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, view, gin.H{"refreshed": err == nil})
}
