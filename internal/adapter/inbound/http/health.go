package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// RuleCounter reports how many rules are loaded per phase.
type RuleCounter interface {
	RuleCount() (request, response int)
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rules    RuleCounter
	blocking *blocking.Holder
	version  string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(rules RuleCounter, blocking *blocking.Holder, version string) *HealthChecker {
	return &HealthChecker{
		rules:    rules,
		blocking: blocking,
		version:  version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.rules != nil {
		req, resp := h.rules.RuleCount()
		checks["rules"] = fmt.Sprintf("ok: %d request, %d response", req, resp)
	} else {
		checks["rules"] = "not configured"
	}

	// Blocking cannot render anything until templates are loaded.
	if h.blocking != nil {
		if h.blocking.Service() != nil {
			checks["blocking"] = "ok"
		} else {
			checks["blocking"] = "not initialized"
			healthy = false
		}
	} else {
		checks["blocking"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback when no HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}
