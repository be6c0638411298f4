package metrics

import (
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
)

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	coordinator.Observer

	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	RecordWebSocketConnection(action string)
	RecordSetup(result string)
	RecordCommand(command string, success bool)
	RecordStatePublish(success bool)
	SetLoadedEntries(n int)
}

// MetricsConfig contains configuration for metrics collection
type MetricsConfig struct {
	Enabled bool
	Prefix  string
}

// Setup results recorded by RecordSetup
const (
	SetupLoaded   = "loaded"
	SetupRefused  = "refused"
	SetupDeferred = "deferred"
	SetupFailed   = "failed"
)
