package handlers

import (
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/integration"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/sirupsen/logrus"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	service *integration.Service
	health  *metrics.HealthChecker
	log     *logrus.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(service *integration.Service, health *metrics.HealthChecker, logger *logrus.Logger) *Handlers {
	return &Handlers{
		service: service,
		health:  health,
		log:     logger,
	}
}
