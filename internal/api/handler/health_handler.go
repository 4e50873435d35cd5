package handler

import (
	"context"
	"net/http"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	ready func(ctx context.Context) error
}

// NewHealthHandler takes the readiness check of the queue backend.
func NewHealthHandler(ready func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Health handles GET /health
//
// @Summary  Liveness check with queue backend state
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "queue": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "queue": "ok"})
}
