package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	svc       ExecutionService
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc ExecutionService, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{svc: svc, startedAt: startedAt, logger: logger}
}

// HealthCheck reports liveness plus the halt flag, so a halted engine is
// visible to probes without failing them.
// GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"engine":         h.svc.EngineAddress().Hex(),
		"halted":         h.svc.Safety().Halted,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
