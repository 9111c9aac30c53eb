package handlers

import (
	"net/http"
	"time"

	"netspace-tracker/internal/core"
)

// Pinger checks the database connection
type Pinger interface {
	PingWithTimeout(timeout time.Duration) error
}

// HealthHandler reports service liveness
type HealthHandler struct {
	logger   *core.Logger
	registry *core.Registry
	db       Pinger
	service  string
	version  string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(logger *core.Logger, registry *core.Registry, db Pinger, service, version string) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		registry: registry,
		db:       db,
		service:  service,
		version:  version,
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string               `json:"status"`
	Service  string               `json:"service"`
	Version  string               `json:"version"`
	Features []core.FeatureStatus `json:"features"`
}

// HealthCheckHandler provides a health check endpoint
func (h *HealthHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Service:  h.service,
		Version:  h.version,
		Features: h.registry.GetFeatureStatus(),
	}

	status := http.StatusOK
	if err := h.db.PingWithTimeout(2 * time.Second); err != nil {
		h.logger.WithContext(r.Context()).Error("Health check database ping failed", "error", err)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	core.WriteJSON(w, status, resp)
}
