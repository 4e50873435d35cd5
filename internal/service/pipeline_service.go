package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/ingest"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/repository"
	"github.com/platepulse/recommender/internal/worker"
)

// DefaultFailedLimit caps the failed-job listing when the caller sets no limit.
const DefaultFailedLimit = 50

// QueueStatus is the status-surface view of one queue. Counts is nil when the
// backend could not be reached.
type QueueStatus struct {
	Status string        `json:"status"`
	Counts *queue.Counts `json:"counts,omitempty"`
}

// ScrapingReport combines the scraping runner state with the item table
// totals and the configuration state of every source.
type ScrapingReport struct {
	worker.ScrapingStatus
	Items   *repository.ItemStats `json:"items,omitempty"`
	Sources map[string]bool       `json:"sources"`
}

// PipelineService is the admin and status facade over the pipeline.
// HTTP handlers depend on this service, not on the workers directly.
type PipelineService struct {
	client    *queue.Client
	scheduler *worker.RecommendationScheduler
	scraper   *worker.ScrapingWorker
	items     repository.ItemStore
	sources   func() map[string]bool
	logger    *zap.Logger
}

func NewPipelineService(
	client *queue.Client,
	scheduler *worker.RecommendationScheduler,
	scraper *worker.ScrapingWorker,
	items repository.ItemStore,
	sources func() map[string]bool,
	logger *zap.Logger,
) *PipelineService {
	if sources == nil {
		sources = func() map[string]bool { return map[string]bool{} }
	}
	return &PipelineService{
		client: client, scheduler: scheduler, scraper: scraper,
		items: items, sources: sources, logger: logger,
	}
}

// Ready reports domain.ErrQueueUnavailable when the queue backend is down.
func (s *PipelineService) Ready(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// QueueStatus returns per-state counts for every queue. A queue whose counts
// cannot be read is reported as "unavailable" instead of failing the call.
func (s *PipelineService) QueueStatus(ctx context.Context) map[string]QueueStatus {
	out := make(map[string]QueueStatus, len(queue.Names))
	for _, name := range queue.Names {
		c, err := s.client.Counts(ctx, name)
		if err != nil {
			s.logger.Warn("queue status unavailable", zap.String("queue", name), zap.Error(err))
			out[name] = QueueStatus{Status: "unavailable"}
			continue
		}
		out[name] = QueueStatus{Status: "ok", Counts: &c}
	}
	return out
}

// RecommendationStatus reports the recommendation scheduler state: whether a
// run is in flight, the last run and the next cron activation.
func (s *PipelineService) RecommendationStatus() worker.SchedulerStatus {
	return s.scheduler.Status()
}

// ScrapingStatus reports the scraping runner, item totals and sources.
func (s *PipelineService) ScrapingStatus(ctx context.Context) ScrapingReport {
	report := ScrapingReport{ScrapingStatus: s.scraper.Status(), Sources: s.sources()}
	stats, err := s.items.Stats(ctx)
	if err != nil {
		s.logger.Warn("item stats unavailable", zap.Error(err))
		return report
	}
	report.Items = stats
	return report
}

// RunRecommendations starts a recommendation run now.
func (s *PipelineService) RunRecommendations(ctx context.Context) (*worker.ScheduleResult, error) {
	return s.scheduler.TriggerRecommendationRun(ctx)
}

// RunUserTest queues a single-user recommendation batch and returns its ID.
func (s *PipelineService) RunUserTest(ctx context.Context, userID int64) (string, error) {
	return s.scheduler.TriggerUserTestRun(ctx, userID)
}

// RunScraping ingests one location now. An empty location continues the
// rotation.
func (s *PipelineService) RunScraping(ctx context.Context, location string) (*ingest.RunResult, error) {
	return s.scraper.TriggerRun(ctx, location)
}

// FailedJobs lists the newest terminally failed jobs of a queue.
func (s *PipelineService) FailedJobs(ctx context.Context, queueName string, limit int) ([]*queue.Job, error) {
	if limit <= 0 || limit > DefaultFailedLimit {
		limit = DefaultFailedLimit
	}
	jobs, err := s.client.Failed(ctx, queueName, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	return jobs, nil
}

// PurgeFailed removes every terminally failed job of a queue.
func (s *PipelineService) PurgeFailed(ctx context.Context, queueName string) (int, error) {
	n, err := s.client.PurgeFailed(ctx, queueName)
	if err != nil {
		return 0, fmt.Errorf("purge failed jobs: %w", err)
	}
	s.logger.Info("purged failed jobs", zap.String("queue", queueName), zap.Int("count", n))
	return n, nil
}
