package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/platepulse/recommender/internal/api/middleware"
	"github.com/platepulse/recommender/internal/service"
)

// AdminHandler handles the manual triggers and the failed-job endpoints.
type AdminHandler struct {
	svc    *service.PipelineService
	logger *zap.Logger
}

func NewAdminHandler(svc *service.PipelineService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// RunRecommendations handles POST /api/v1/admin/recommendations/run
//
// @Summary  Start a recommendation run now
// @Tags     admin
// @Produce  json
// @Success  202  {object}  worker.ScheduleResult
// @Failure  409  {object}  map[string]string  "A run is already in progress"
// @Router   /api/v1/admin/recommendations/run [post]
func (h *AdminHandler) RunRecommendations(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RunRecommendations(r.Context())
	if err != nil {
		h.warn(r, "manual recommendation run failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// RunUserTest handles POST /api/v1/admin/recommendations/test/{userID}
//
// @Summary  Queue a single-user recommendation batch
// @Tags     admin
// @Produce  json
// @Param    userID  path      int  true  "User ID"
// @Success  202     {object}  map[string]string
// @Failure  404     {object}  map[string]string
// @Failure  422     {object}  map[string]string  "User is inactive"
// @Router   /api/v1/admin/recommendations/test/{userID} [post]
func (h *AdminHandler) RunUserTest(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "userID must be a positive integer")
		return
	}
	batchID, err := h.svc.RunUserTest(r.Context(), userID)
	if err != nil {
		h.warn(r, "test run failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"batchId": batchID})
}

// RunScraping handles POST /api/v1/admin/scraping/run
//
// @Summary  Run ingestion for one location now
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    body  body      object  false  "{\"location\": \"Pune\"}"
// @Success  200   {object}  ingest.RunResult
// @Failure  409   {object}  map[string]string
// @Router   /api/v1/admin/scraping/run [post]
func (h *AdminHandler) RunScraping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Location == "" {
		req.Location = r.URL.Query().Get("location")
	}

	res, err := h.svc.RunScraping(r.Context(), req.Location)
	if err != nil {
		h.warn(r, "manual scraping run failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListFailed handles GET /api/v1/admin/queues/{queue}/failed
//
// @Summary  List terminally failed jobs
// @Tags     admin
// @Produce  json
// @Param    queue  path      string  true   "Queue name"
// @Param    limit  query     int     false  "Max jobs (default 50)"
// @Success  200    {object}  map[string]any
// @Failure  404    {object}  map[string]string
// @Router   /api/v1/admin/queues/{queue}/failed [get]
func (h *AdminHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.svc.FailedJobs(r.Context(), chi.URLParam(r, "queue"), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": jobs, "total": len(jobs)})
}

// PurgeFailed handles DELETE /api/v1/admin/queues/{queue}/failed
//
// @Summary  Delete terminally failed jobs
// @Tags     admin
// @Produce  json
// @Param    queue  path      string  true  "Queue name"
// @Success  200    {object}  map[string]int
// @Failure  404    {object}  map[string]string
// @Router   /api/v1/admin/queues/{queue}/failed [delete]
func (h *AdminHandler) PurgeFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.PurgeFailed(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (h *AdminHandler) warn(r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
}
