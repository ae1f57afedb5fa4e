package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/lecternhq/lectern/internal/errors"
	"github.com/lecternhq/lectern/internal/server/middleware"
)

// Checker reports the health of one subsystem.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body returned by the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthManager aggregates named checkers into one endpoint.
type HealthManager struct {
	version string

	mu       sync.Mutex
	checkers map[string]Checker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
	}
}

// RegisterChecker adds a named health checker.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler serves the aggregated health status. Unhealthy checks turn
// the response into a 503 with per-check detail.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	names := make([]string, 0, len(m.checkers))
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		names = append(names, name)
		checkers[name] = c
	}
	m.mu.Unlock()

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := checkers[name].CheckHealth(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	if !healthy {
		details := make(map[string]any, len(checks))
		for name, status := range checks {
			details[name] = status
		}
		apperrors.WriteWithDetails(w, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable,
			"one or more health checks failed",
			middleware.GetRequestID(r.Context()),
			details)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  checks,
	})
}
