package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platepulse/recommender/internal/ingest"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	QueueJobs        *prometheus.GaugeVec
	ItemsIngested    *prometheus.CounterVec
	ItemsSkipped     *prometheus.CounterVec
	RankingFallbacks prometheus.Counter
	BreakerState     prometheus.Gauge
	EmailsSent       prometheus.Counter
	HTTPDuration     *prometheus.HistogramVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Jobs finished by the workers, by queue and outcome (completed, retried, failed).",
		}, []string{"queue", "outcome"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Handler latency from claim to successful completion.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"queue"}),

		QueueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Current number of jobs per queue and state.",
		}, []string{"queue", "state"}),

		ItemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "items_ingested_total",
			Help: "Catalogue observations committed, by source platform.",
		}, []string{"platform"}),

		ItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "items_skipped_total",
			Help: "Malformed source items dropped during ingestion, by platform.",
		}, []string{"platform"}),

		RankingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_fallbacks_total",
			Help: "Rankings served by the rule-based ranker after the LLM failed.",
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_breaker_state",
			Help: "LLM circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),

		EmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Recommendation emails accepted by the transport.",
		}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobDuration,
		m.QueueJobs,
		m.ItemsIngested,
		m.ItemsSkipped,
		m.RankingFallbacks,
		m.BreakerState,
		m.EmailsSent,
		m.HTTPDuration,
	)

	return m
}

// WorkerHooks returns the callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnCompleted: func(q string, latency time.Duration) {
			m.JobsProcessed.WithLabelValues(q, "completed").Inc()
			m.JobDuration.WithLabelValues(q).Observe(latency.Seconds())
		},
		OnFailed: func(q string, terminal bool) {
			outcome := "retried"
			if terminal {
				outcome = "failed"
			}
			m.JobsProcessed.WithLabelValues(q, outcome).Inc()
		},
	}
}

// DepthHook records a janitor snapshot of one queue.
func (m *Metrics) DepthHook(q string, c queue.Counts) {
	m.QueueJobs.WithLabelValues(q, "waiting").Set(float64(c.Waiting))
	m.QueueJobs.WithLabelValues(q, "delayed").Set(float64(c.Delayed))
	m.QueueJobs.WithLabelValues(q, "active").Set(float64(c.Active))
	m.QueueJobs.WithLabelValues(q, "completed").Set(float64(c.Completed))
	m.QueueJobs.WithLabelValues(q, "failed").Set(float64(c.Failed))
}

func (m *Metrics) IngestHooks() ingest.MetricHooks {
	return ingest.MetricHooks{
		OnIngested: func(platform string) { m.ItemsIngested.WithLabelValues(platform).Inc() },
		OnSkipped:  func(platform string) { m.ItemsSkipped.WithLabelValues(platform).Inc() },
	}
}

// BreakerHook tracks circuit breaker transitions; names are gobreaker's.
func (m *Metrics) BreakerHook(_, to string) {
	switch to {
	case "closed":
		m.BreakerState.Set(0)
	case "half-open":
		m.BreakerState.Set(1)
	case "open":
		m.BreakerState.Set(2)
	}
}

func (m *Metrics) FallbackHook(error) { m.RankingFallbacks.Inc() }

func (m *Metrics) EmailSent() { m.EmailsSent.Inc() }

// HTTPObserve matches middleware.ObserveFunc.
func (m *Metrics) HTTPObserve(route string, status int, latency time.Duration) {
	m.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(latency.Seconds())
}
