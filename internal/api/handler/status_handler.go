package handler

import (
	"net/http"

	"github.com/platepulse/recommender/internal/service"
)

// StatusHandler serves human-readable JSON snapshots of the pipeline.
// Raw Prometheus metrics are available separately at /metrics.
type StatusHandler struct {
	svc *service.PipelineService
}

func NewStatusHandler(svc *service.PipelineService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

// Queues handles GET /api/v1/status/queues
//
// @Summary  Per-queue job counts
// @Tags     status
// @Produce  json
// @Success  200  {object}  map[string]service.QueueStatus
// @Router   /api/v1/status/queues [get]
func (h *StatusHandler) Queues(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.QueueStatus(r.Context()))
}

// Recommendations handles GET /api/v1/status/recommendations
//
// @Summary  Recommendation scheduler state: last and next run
// @Tags     status
// @Produce  json
// @Success  200  {object}  worker.SchedulerStatus
// @Router   /api/v1/status/recommendations [get]
func (h *StatusHandler) Recommendations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.RecommendationStatus())
}

// Scraping handles GET /api/v1/status/scraping
//
// @Summary  Scraping runner state, item totals and source configuration
// @Tags     status
// @Produce  json
// @Success  200  {object}  service.ScrapingReport
// @Router   /api/v1/status/scraping [get]
func (h *StatusHandler) Scraping(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.ScrapingStatus(r.Context()))
}
