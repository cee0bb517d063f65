package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Pinger interface for health check dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a new health handler. Each named dependency is
// checked by the readiness probe.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents a single health check result.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready handles the readiness probe. Dependencies are checked concurrently
// and a single failure yields a 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckResult, len(h.deps))
	allHealthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, dep := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := checkDependency(ctx, dep)
			mu.Lock()
			checks[name] = result
			if result.Status != "ok" {
				allHealthy = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	response := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allHealthy {
		response.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, response)
}

func checkDependency(ctx context.Context, dep Pinger) CheckResult {
	start := time.Now()
	if err := dep.Ping(ctx); err != nil {
		return CheckResult{
			Status:   "failed",
			Duration: time.Since(start).String(),
			Error:    err.Error(),
		}
	}
	return CheckResult{
		Status:   "ok",
		Duration: time.Since(start).String(),
	}
}
