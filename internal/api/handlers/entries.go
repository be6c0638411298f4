package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/utils"
	"github.com/gin-gonic/gin"
)

// CreateEntryRequest adds a SwitchBot account
type CreateEntryRequest struct {
	Title  string `json:"title"`
	Token  string `json:"token" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// GetEntries lists every config entry
func (h *Handlers) GetEntries(c *gin.Context) {
	entries, err := h.service.Entries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, entries, gin.H{"count": len(entries)})
}

// GetEntry returns one config entry
func (h *Handlers) GetEntry(c *gin.Context) {
	entry, err := h.service.Entry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, entry)
}

// CreateEntry stores and sets up a new account.
// A deferred setup answers 202 and keeps retrying in the background.
func (h *Handlers) CreateEntry(c *gin.Context) {
	var req CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	entry, err := h.service.CreateEntry(c.Request.Context(), req.Title, devices.Credentials{
		Token:  req.Token,
		Secret: req.Secret,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if entry.State != models.EntryStateLoaded {
		status = http.StatusAccepted
	}
	utils.SendSuccessWithStatus(c, status, entry)
}

// DeleteEntry unloads and removes an entry
func (h *Handlers) DeleteEntry(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteEntry(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"id": id, "deleted": true})
}

// ReloadEntry tears an entry down and sets it up again
func (h *Handlers) ReloadEntry(c *gin.Context) {
	entry, err := h.service.ReloadEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, entry)
}
