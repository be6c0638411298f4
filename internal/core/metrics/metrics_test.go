package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(enabled bool) *PrometheusCollector {
	return NewPrometheusCollector(&MetricsConfig{Enabled: enabled, Prefix: "test"}, prometheus.NewRegistry())
}

func TestObserveRefreshByOutcome(t *testing.T) {
	c := newTestCollector(true)
	plug := devices.Identity{ID: "P1", Kind: devices.KindPlug}

	c.ObserveRefresh(plug, devices.FailureNone, 120*time.Millisecond)
	c.ObserveRefresh(plug, devices.FailureNone, 80*time.Millisecond)
	c.ObserveRefresh(plug, devices.FailureTransient, time.Second)
	c.ObserveRefresh(plug, devices.FailureAuth, time.Second)
	c.ObserveCoalesced(plug)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.refreshTotal.WithLabelValues("plug", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshTotal.WithLabelValues("plug", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshTotal.WithLabelValues("plug", "auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshCoalesced.WithLabelValues("plug")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.refreshDuration))
}

func TestIntegrationCounters(t *testing.T) {
	c := newTestCollector(true)

	c.RecordSetup(SetupLoaded)
	c.RecordSetup(SetupDeferred)
	c.RecordSetup(SetupDeferred)
	c.SetLoadedEntries(3)
	c.RecordCommand("turnOn", true)
	c.RecordStatePublish(false)
	c.RecordWebSocketConnection("connect")
	c.RecordWebSocketConnection("connect")
	c.RecordWebSocketConnection("disconnect")
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.setupsTotal.WithLabelValues(SetupDeferred)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.loadedEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("turnOn", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.statePublishes.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.websocketConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "200")))
}

func TestDisabledCollectorRecordsNothing(t *testing.T) {
	c := newTestCollector(false)
	c.ObserveRefresh(devices.Identity{Kind: devices.KindPlug}, devices.FailureNone, time.Millisecond)
	c.RecordSetup(SetupLoaded)

	assert.Equal(t, 0, testutil.CollectAndCount(c.refreshTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(c.setupsTotal))
}

func TestHealthCheckerAggregates(t *testing.T) {
	h := NewHealthChecker("test", time.Second)
	h.Register("database", func(context.Context) HealthStatus {
		return NewHealthStatus(StatusHealthy, "ok")
	})

	report := h.GetOverallHealth(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "test", report.SystemInfo["version"])

	h.Register("entries", func(context.Context) HealthStatus {
		return NewHealthStatus(StatusDegraded, "1 entry halted")
	})
	report = h.GetOverallHealth(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Components, 2)
}

func TestHealthCheckTimeout(t *testing.T) {
	h := NewHealthChecker("test", 10*time.Millisecond)
	h.Register("slow", func(ctx context.Context) HealthStatus {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return NewHealthStatus(StatusHealthy, "late")
	})

	report := h.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "Health check timed out", report.Components["slow"].Message)
}
