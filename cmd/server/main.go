package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/api"
	"github.com/platepulse/recommender/internal/config"
	"github.com/platepulse/recommender/internal/db"
	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/ingest"
	"github.com/platepulse/recommender/internal/metrics"
	"github.com/platepulse/recommender/internal/provider"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/ranking"
	"github.com/platepulse/recommender/internal/ratelimiter"
	"github.com/platepulse/recommender/internal/repository"
	"github.com/platepulse/recommender/internal/service"
	"github.com/platepulse/recommender/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := repository.NewPgUserRepository(pool)
	items := repository.NewPgItemStore(pool)

	store := newQueueStore(cfg, pool)
	client := queue.NewClient(store)

	// The queue backend must be reachable before anything is scheduled.
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = client.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Fatal("refusing to start", zap.String("backend", cfg.QueueBackend), zap.Error(err))
	}

	ingestor := newIngestor(cfg, items, m, logger)
	ranker := newRanker(cfg, m, logger)

	transport := newTransport(cfg, logger)
	renderer := provider.NewRenderer(cfg.AppName)
	emailLimiter := ratelimiter.NewWindow(cfg.EmailRateLimit, cfg.EmailRateWindow)

	// ---- background components ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	recHandler := worker.NewRecommendationHandler(users, items, ranker, client, worker.RecommendationConfig{
		Limit:     cfg.RecommendationLimit,
		UserDelay: cfg.UserDelay,
	}, logger)
	emailHandler := worker.NewEmailHandler(transport, renderer, emailLimiter, logger, m.EmailSent)

	scheduler := worker.NewRecommendationScheduler(users, client, worker.SchedulerConfig{
		Cron:       cfg.RecommendationCron,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	}, logger)
	scraper := worker.NewScrapingWorker(ingestor, cfg.ScrapingEnabled, cfg.ScrapingCron, cfg.ScrapingLocations, logger)

	hooks := m.WorkerHooks()
	queueOpts := func(concurrency int) worker.Options {
		return worker.Options{Concurrency: concurrency, PollInterval: cfg.QueuePollInterval, Lease: cfg.QueueLease}
	}

	bg := worker.NewPool(
		worker.NewWorker(store, domain.QueueRecommendations, recHandler.Handle, queueOpts(cfg.RecommendationConcurrency), logger, hooks),
		worker.NewWorker(store, domain.QueueEmails, emailHandler.Handle, queueOpts(cfg.EmailConcurrency), logger, hooks),
		worker.NewJanitorWorker(store, []string{domain.QueueRecommendations, domain.QueueEmails},
			queue.DefaultRetention, cfg.JanitorInterval, logger, m.DepthHook),
		worker.ErrRunner("recommendation-scheduler", scheduler.Run, logger),
		worker.ErrRunner("scraping-worker", scraper.Run, logger),
	)
	bg.Start(workerCtx)

	// ---- HTTP server ----
	svc := service.NewPipelineService(client, scheduler, scraper, items, ingestor.SourceStatus, logger)
	router := api.NewRouter(svc, reg, logger, api.Options{
		AdminRequestsPerMinute: cfg.AdminRequestsPerMinute,
		Observe:                m.HTTPObserve,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("queue_backend", cfg.QueueBackend),
			zap.String("email_transport", cfg.EmailTransport),
			zap.Bool("scraping_enabled", cfg.ScrapingEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the schedulers and stop claiming new jobs.
	cancelWorkers()

	// 3. Wait for in-flight jobs to run to completion, bounded by the
	// shutdown timeout. Unfinished jobs keep their lease and are redelivered
	// by the janitor after it expires.
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer drainCancel()
	if err := bg.WaitContext(drainCtx); err != nil {
		logger.Warn("in-flight jobs still running at shutdown deadline", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

func newQueueStore(cfg *config.Config, pool *pgxpool.Pool) queue.Store {
	if cfg.QueueBackend == config.QueueBackendMemory {
		return queue.NewMemoryStore()
	}
	return queue.NewPgStore(pool)
}

func newIngestor(cfg *config.Config, items repository.ItemStore, m *metrics.Metrics, logger *zap.Logger) *ingest.Ingestor {
	sources := []ingest.Source{
		ingest.NewSpoonacularSource("", cfg.SpoonacularAPIKey, cfg.SourceTimeout),
		ingest.NewEdamamSource(ingest.EdamamConfig{
			AppID:    cfg.EdamamAppID,
			AppKey:   cfg.EdamamAppKey,
			Timeout:  cfg.SourceTimeout,
			Interval: cfg.EdamamInterval,
		}),
	}
	return ingest.NewIngestor(sources, ingest.NewSyntheticSource(), ingest.NewReconciler(items), cfg.MinItems, logger, m.IngestHooks())
}

// newRanker uses the LLM when a key is configured, falling back to the
// rule-based ranker on any failure.
func newRanker(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) ranking.Ranker {
	fallback := ranking.NewFallbackRanker()
	if cfg.GroqAPIKey == "" {
		logger.Info("no LLM key configured, using rule-based ranking")
		return fallback
	}
	llm := ranking.NewLLMRanker(ranking.LLMConfig{
		APIKey:      cfg.GroqAPIKey,
		BaseURL:     cfg.GroqBaseURL,
		Model:       cfg.GroqModel,
		Timeout:     cfg.RankingTimeout,
		MinInterval: cfg.LLMMinInterval,
	}, logger, m.BreakerHook)

	r := ranking.NewResilientRanker(llm, fallback, cfg.RankingTimeout, logger)
	r.OnFallback = m.FallbackHook
	return r
}

func newTransport(cfg *config.Config, logger *zap.Logger) provider.Transport {
	switch cfg.EmailTransport {
	case config.EmailTransportSMTP:
		return provider.NewSMTPTransport(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
			Timeout:  cfg.EmailTimeout,
		})
	case config.EmailTransportWebhook:
		return provider.NewWebhookTransport(cfg.EmailWebhookURL, cfg.EmailWebhookAPIKey, cfg.EmailFrom, cfg.EmailTimeout)
	default:
		return provider.NewLogTransport(logger)
	}
}
