package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ComponentStatus represents the health status of a component
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	Latency   time.Duration   `json:"latency"`
	LastCheck time.Time       `json:"last_check"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Names returns the component names in sorted order.
func (s HealthStatus) Names() []string {
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthChecker tracks the reachability of the orchestrator and the local
// history store for `cdpilot health`.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	logger     *slog.Logger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		logger:     logger,
	}
}

// RegisterComponent registers a component for health checking
func (h *HealthChecker) RegisterComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    StatusUnknown,
		LastCheck: time.Now(),
	}
}

// UpdateComponentHealth updates the health status of a component
func (h *HealthChecker) UpdateComponentHealth(name string, status ComponentStatus, message string) {
	h.setComponent(name, ComponentHealth{
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
	})
}

func (h *HealthChecker) setComponent(name string, health ComponentHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = health
}

// GetHealth returns the current health status
func (h *HealthChecker) GetHealth() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Copy components to avoid race conditions
	components := make(map[string]ComponentHealth)
	overallHealthy := true

	for name, health := range h.components {
		components[name] = health
		if health.Status != StatusHealthy {
			overallHealthy = false
		}
	}

	status := StatusHealthy
	if !overallHealthy {
		status = StatusUnhealthy
	}

	return HealthStatus{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	}
}

// HealthCheckFunc is a function that checks the health of a component
type HealthCheckFunc func(ctx context.Context) error

// CheckComponent runs a health check function and updates the component status
func (h *HealthChecker) CheckComponent(ctx context.Context, name string, checkFunc HealthCheckFunc) {
	start := time.Now()
	err := checkFunc(ctx)
	health := ComponentHealth{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		LastCheck: time.Now(),
	}
	if err != nil {
		health.Status = StatusUnhealthy
		health.Message = err.Error()
		h.logger.Warn("component health check failed",
			"component", name,
			"error", err.Error())
	}
	h.setComponent(name, health)
}

// RunChecks runs every check once, in name order, and returns the result.
func (h *HealthChecker) RunChecks(ctx context.Context, checks map[string]HealthCheckFunc) HealthStatus {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h.CheckComponent(ctx, name, checks[name])
	}
	return h.GetHealth()
}
