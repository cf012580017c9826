package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Check returns nil when the dependency is healthy
type Check func(ctx context.Context) error

// HealthChecker runs the registered dependency checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Check
	// optional checks report "degraded" instead of failing readiness
	optional map[string]bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:   make(map[string]Check),
		optional: make(map[string]bool),
	}
}

// Register adds a check that readiness depends on
func (h *HealthChecker) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterOptional adds a check whose failure only degrades the status
func (h *HealthChecker) RegisterOptional(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.optional[name] = true
}

// GetHealthStatus runs every check and reports whether the required ones passed
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ready := true
	degraded := false
	checks := make(map[string]interface{}, len(names))
	for _, name := range names {
		h.mu.RLock()
		check, optional := h.checks[name], h.optional[name]
		h.mu.RUnlock()

		start := time.Now()
		entry := map[string]interface{}{"status": "ok"}
		if err := check(ctx); err != nil {
			entry["status"] = "error"
			entry["error"] = err.Error()
			if optional {
				degraded = true
			} else {
				ready = false
			}
		}
		entry["latency_ms"] = time.Since(start).Milliseconds()
		checks[name] = entry
	}

	status := "ok"
	switch {
	case !ready:
		status = "error"
	case degraded:
		status = "degraded"
	}

	return map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, ready
}
