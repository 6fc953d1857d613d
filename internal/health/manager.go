// Package health aggregates named component health checks for the
// supervisor's startup gate and operational status reporting. Adapted
// from the teacher's internal/infrastructure/health/manager.go.
package health

import (
	"sync"

	"dcabot/internal/core"
)

// Manager aggregates health status from registered components.
type Manager struct {
	logger core.Logger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewManager creates a health Manager. logger may be nil for tests.
func NewManager(logger core.Logger) *Manager {
	m := &Manager{checks: make(map[string]func() error)}
	if logger != nil {
		m.logger = logger.WithFields("component", "health_manager")
	}
	return m
}

// Register adds a named health check.
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status returns a human-readable status string per registered component.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
		} else {
			status[component] = "healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered component currently passes.
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
