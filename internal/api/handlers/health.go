package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health returns the health report of the service. Unhealthy answers 503.
func (h *Handlers) Health(c *gin.Context) {
	report := h.health.GetOverallHealth(c.Request.Context())

	status := http.StatusOK
	if report.Status == metrics.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":     report.Status,
		"message":    report.Message,
		"service":    version.Name,
		"version":    version.GetVersion(),
		"timestamp":  report.Timestamp,
		"components": report.Components,
	})
}

// Version returns build information
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}
