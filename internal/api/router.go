package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/api/handler"
	apimw "github.com/platepulse/recommender/internal/api/middleware"
	"github.com/platepulse/recommender/internal/service"
)

// Options tunes the HTTP surface.
type Options struct {
	// AdminRequestsPerMinute limits admin calls per client IP; 0 disables it.
	AdminRequestsPerMinute int
	// Observe receives per-request route, status and latency; optional.
	Observe apimw.ObserveFunc
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.PipelineService,
	reg prometheus.Gatherer,
	logger *zap.Logger,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger, opts.Observe))

	// --- handler instances ---
	hh := handler.NewHealthHandler(svc.Ready)
	sh := handler.NewStatusHandler(svc)
	ah := handler.NewAdminHandler(svc, logger)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status/queues", sh.Queues)
		r.Get("/status/recommendations", sh.Recommendations)
		r.Get("/status/scraping", sh.Scraping)

		r.Route("/admin", func(r chi.Router) {
			if opts.AdminRequestsPerMinute > 0 {
				r.Use(httprate.LimitByIP(opts.AdminRequestsPerMinute, time.Minute))
			}
			r.Post("/recommendations/run", ah.RunRecommendations)
			r.Post("/recommendations/test/{userID}", ah.RunUserTest)
			r.Post("/scraping/run", ah.RunScraping)
			r.Get("/queues/{queue}/failed", ah.ListFailed)
			r.Delete("/queues/{queue}/failed", ah.PurgeFailed)
		})
	})

	return r
}
