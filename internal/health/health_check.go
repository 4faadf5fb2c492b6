// Package health provides liveness/readiness probes and the gRPC health service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe reports whether one dependency is usable
type Probe func(ctx context.Context) error

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker runs the registered dependency probes
type HealthChecker struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	draining bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHealthChecker creates a health checker without probes
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		probes:  make(map[string]Probe),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Register adds a named probe, replacing one with the same name
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// SetDraining marks the process as shutting down; readiness fails from then on
func (h *HealthChecker) SetDraining() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
}

// Check runs every probe and returns per-probe results and overall health
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	draining := h.draining
	names := make([]string, 0, len(h.probes))
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		names = append(names, name)
		probes[name] = p
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]string, len(names)+1)
	healthy := !draining
	if draining {
		checks["supervisor"] = "draining"
	}
	for _, name := range names {
		if err := probes[name](ctx); err != nil {
			h.logger.Warn("Health probe failed", zap.String("probe", name), zap.Error(err))
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}
	return checks, healthy
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.Check(r.Context())

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
