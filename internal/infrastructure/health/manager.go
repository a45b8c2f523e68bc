package health

import (
	"context"
	"sort"
	"sync"

	"spot_trader/internal/core"
)

// Check reports a component's health; nil means healthy.
type Check func(ctx context.Context) error

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]Check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check Check) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Components lists registered component names in order.
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus runs every check once and reports whether all passed.
func (hm *HealthManager) GetStatus(ctx context.Context) (map[string]string, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	healthy := true
	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		if err := check(ctx); err != nil {
			healthy = false
			status[component] = "Unhealthy: " + err.Error()
			if hm.logger != nil {
				hm.logger.Warn("Health check failed", "check", component, "error", err)
			}
		} else {
			status[component] = "Healthy"
		}
	}
	return status, healthy
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	_, healthy := hm.GetStatus(ctx)
	return healthy
}
