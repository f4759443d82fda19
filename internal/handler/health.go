package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ServiceName is reported by the liveness probe.
const ServiceName = "registry-service"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks map[string]Pinger
	now    func() time.Time
}

// NewHealthHandler creates a health handler checking every named dependency.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// ReadyResponse is the readiness body.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// Live handles GET /health - basic liveness check
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "OK",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Service:   ServiceName,
	})
}

// Ready handles GET /health/ready - readiness check including dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	status := http.StatusOK
	overallStatus := "OK"

	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			overallStatus = "UNHEALTHY"
		} else {
			services[name] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status:   overallStatus,
		Services: services,
	})
}
