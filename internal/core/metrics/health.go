package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration"`
	Components map[string]HealthStatus `json:"components"`
	SystemInfo map[string]interface{}  `json:"system_info"`
}

// HealthCheck reports the health of one component
type HealthCheck func(ctx context.Context) HealthStatus

// HealthChecker runs named component checks
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
	version string
}

// NewHealthChecker creates a health checker that bounds every check by timeout
func NewHealthChecker(version string, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
		version: version,
	}
}

// Register adds or replaces a named check
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// GetOverallHealth runs every registered check
func (h *HealthChecker) GetOverallHealth(ctx context.Context) HealthReport {
	start := time.Now()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	components := make(map[string]HealthStatus, len(names))
	for _, name := range names {
		check := checks[name]
		checkStart := time.Now()
		result := HealthCheckWithTimeout(ctx, h.timeout, func(ctx context.Context) HealthStatus {
			return check(ctx)
		})
		result.Duration = time.Since(checkStart)
		components[name] = result
	}

	overallStatus, message := calculateOverallStatus(components)

	return HealthReport{
		Status:     overallStatus,
		Message:    message,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Components: components,
		SystemInfo: map[string]interface{}{
			"version": h.version,
			"uptime":  time.Since(startTime).String(),
		},
	}
}

// calculateOverallStatus determines the overall health status based on component statuses
func calculateOverallStatus(components map[string]HealthStatus) (string, string) {
	var degraded, unhealthy, unknown int
	total := len(components)

	for _, status := range components {
		switch status.Status {
		case StatusHealthy:
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		default:
			unknown++
		}
	}

	switch {
	case unhealthy > 0:
		return StatusUnhealthy, fmt.Sprintf("%d/%d components unhealthy", unhealthy, total)
	case degraded > 0:
		return StatusDegraded, fmt.Sprintf("%d/%d components degraded", degraded, total)
	case unknown > 0:
		return StatusUnknown, fmt.Sprintf("%d/%d components unknown", unknown, total)
	}
	return StatusHealthy, fmt.Sprintf("All %d components healthy", total)
}

// startTime tracks when the application started
var startTime = time.Now()

// NewHealthStatus creates a new health status
func NewHealthStatus(status, message string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to a health status
func (h HealthStatus) WithDetail(key string, value interface{}) HealthStatus {
	if h.Details == nil {
		h.Details = make(map[string]interface{})
	}

	h.Details[key] = value
	return h
}

// IsHealthy returns true if the status is healthy
func (h HealthStatus) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// HealthCheckWithTimeout performs a health check with timeout
func HealthCheckWithTimeout(ctx context.Context, timeout time.Duration, check HealthCheck) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan HealthStatus, 1)

	go func() {
		resultChan <- check(ctx)
	}()

	select {
	case result := <-resultChan:
		return result
	case <-ctx.Done():
		return NewHealthStatus(StatusUnhealthy, "Health check timed out").
			WithDetail("timeout", timeout.String())
	}
}
