package metrics

import (
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements MetricsCollector using Prometheus metrics
type PrometheusCollector struct {
	config *MetricsConfig

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
	websocketMessages    *prometheus.CounterVec

	// Refresh Metrics
	refreshTotal     *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	refreshCoalesced *prometheus.CounterVec

	// Integration Metrics
	setupsTotal    *prometheus.CounterVec
	loadedEntries  prometheus.Gauge
	commandsTotal  *prometheus.CounterVec
	statePublishes *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector registered with reg.
// A nil reg uses the default registerer.
func NewPrometheusCollector(config *MetricsConfig, reg prometheus.Registerer) *PrometheusCollector {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "pma_switchbot",
		}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	prefix := config.Prefix
	factory := promauto.With(reg)

	collector := &PrometheusCollector{config: config}

	// Initialize HTTP metrics
	collector.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	collector.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Initialize WebSocket metrics
	collector.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	collector.websocketMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"},
	)

	// Initialize refresh metrics
	collector.refreshTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_refresh_total",
			Help: "Device status fetches by outcome",
		},
		[]string{"device_kind", "outcome"},
	)

	collector.refreshDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_refresh_duration_seconds",
			Help:    "Device status fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"device_kind"},
	)

	collector.refreshCoalesced = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_refresh_coalesced_total",
			Help: "Refresh requests that joined an in-flight fetch",
		},
		[]string{"device_kind"},
	)

	// Initialize integration metrics
	collector.setupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_setups_total",
			Help: "Config entry setup attempts by result",
		},
		[]string{"result"},
	)

	collector.loadedEntries = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_loaded_entries",
			Help: "Number of config entries currently loaded",
		},
	)

	collector.commandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_commands_total",
			Help: "Device commands sent",
		},
		[]string{"command", "success"},
	)

	collector.statePublishes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_state_publishes_total",
			Help: "Entity state messages published to MQTT",
		},
		[]string{"success"},
	)

	return collector
}

// ObserveRefresh records one completed fetch
func (p *PrometheusCollector) ObserveRefresh(device devices.Identity, outcome devices.FailureKind, elapsed time.Duration) {
	if !p.config.Enabled {
		return
	}

	label := "success"
	if outcome != devices.FailureNone {
		label = outcome.String()
	}

	p.refreshTotal.WithLabelValues(device.Kind.String(), label).Inc()
	p.refreshDuration.WithLabelValues(device.Kind.String()).Observe(elapsed.Seconds())
}

// ObserveCoalesced records a refresh that attached to an in-flight fetch
func (p *PrometheusCollector) ObserveCoalesced(device devices.Identity) {
	if !p.config.Enabled {
		return
	}

	p.refreshCoalesced.WithLabelValues(device.Kind.String()).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (p *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !p.config.Enabled {
		return
	}

	p.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection metrics
func (p *PrometheusCollector) RecordWebSocketConnection(action string) {
	if !p.config.Enabled {
		return
	}

	switch action {
	case "connect":
		p.websocketConnections.Inc()
	case "disconnect":
		p.websocketConnections.Dec()
	case "message_sent":
		p.websocketMessages.WithLabelValues("outbound").Inc()
	case "message_received":
		p.websocketMessages.WithLabelValues("inbound").Inc()
	}
}

// RecordSetup records a config entry setup attempt
func (p *PrometheusCollector) RecordSetup(result string) {
	if !p.config.Enabled {
		return
	}

	p.setupsTotal.WithLabelValues(result).Inc()
}

// SetLoadedEntries records how many entries are loaded
func (p *PrometheusCollector) SetLoadedEntries(n int) {
	if !p.config.Enabled {
		return
	}

	p.loadedEntries.Set(float64(n))
}

// RecordCommand records a device command
func (p *PrometheusCollector) RecordCommand(command string, success bool) {
	if !p.config.Enabled {
		return
	}

	p.commandsTotal.WithLabelValues(command, strconv.FormatBool(success)).Inc()
}

// RecordStatePublish records an MQTT state publish
func (p *PrometheusCollector) RecordStatePublish(success bool) {
	if !p.config.Enabled {
		return
	}

	p.statePublishes.WithLabelValues(strconv.FormatBool(success)).Inc()
}
