package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/ranking"
	"github.com/platepulse/recommender/internal/repository"
)

// Enqueuer is the producer side of the queue. *queue.Client implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts queue.Options) (string, error)
}

var _ Enqueuer = (*queue.Client)(nil)

// RecommendationConfig tunes the recommendation handler.
type RecommendationConfig struct {
	// Limit is the number of recommendations requested per user.
	Limit int
	// CandidateLimit caps the items loaded per location.
	CandidateLimit int
	// UserDelay separates consecutive users of a batch.
	UserDelay     time.Duration
	EmailAttempts int
	EmailBackoff  time.Duration
}

func (c RecommendationConfig) withDefaults() RecommendationConfig {
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 100
	}
	if c.EmailAttempts <= 0 {
		c.EmailAttempts = 3
	}
	if c.EmailBackoff <= 0 {
		c.EmailBackoff = 5 * time.Second
	}
	return c
}

// RecommendationHandler turns one batch of users into email jobs.
type RecommendationHandler struct {
	users    repository.UserRepository
	items    repository.ItemStore
	ranker   ranking.Ranker
	enqueuer Enqueuer
	cfg      RecommendationConfig
	logger   *zap.Logger
}

func NewRecommendationHandler(
	users repository.UserRepository,
	items repository.ItemStore,
	ranker ranking.Ranker,
	enqueuer Enqueuer,
	cfg RecommendationConfig,
	logger *zap.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		users: users, items: items, ranker: ranker, enqueuer: enqueuer,
		cfg: cfg.withDefaults(), logger: logger,
	}
}

// Handle processes every user of the batch sequentially. A failure for one
// user is recorded in the result and does not stop the batch; the job only
// fails when the payload is invalid or ctx is cancelled.
func (h *RecommendationHandler) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var payload domain.RecommendationJob
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	log := h.logger.With(zap.String("batch_id", payload.BatchID))
	log.Info("processing batch", zap.Int("users", len(payload.Users)))

	result := &domain.BatchResult{BatchID: payload.BatchID, Results: []domain.UserResult{}}
	for i, bu := range payload.Users {
		if i > 0 && h.cfg.UserDelay > 0 {
			if err := sleep(ctx, h.cfg.UserDelay); err != nil {
				return nil, err
			}
		}

		res := h.processUser(ctx, bu)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if res.Status == domain.OutcomeFailed {
			log.Warn("user failed", zap.Int64("user_id", bu.ID), zap.String("error", res.Error))
		}
		result.Record(res)
	}

	log.Info("batch processed",
		zap.Int("queued", result.Queued),
		zap.Int("failed", result.Failed),
		zap.Int("no_recommendations", result.Empty),
	)
	return result, nil
}

func (h *RecommendationHandler) processUser(ctx context.Context, bu domain.BatchUser) domain.UserResult {
	failed := func(err error) domain.UserResult {
		return domain.UserResult{UserID: bu.ID, Status: domain.OutcomeFailed, Error: err.Error()}
	}

	user, err := h.users.GetByID(ctx, bu.ID)
	if err != nil {
		return failed(fmt.Errorf("load user: %w", err))
	}
	location := bu.Location
	if location == "" {
		location = user.EffectiveLocation()
	}

	candidates, err := h.items.ListAvailable(ctx, location, h.cfg.CandidateLimit)
	if err != nil {
		return failed(fmt.Errorf("load candidates: %w", err))
	}
	if len(candidates) == 0 {
		return domain.UserResult{UserID: bu.ID, Status: domain.OutcomeNoRecommendations}
	}

	recs, err := h.ranker.Rank(ctx, user, candidates, h.cfg.Limit)
	if err != nil {
		return failed(fmt.Errorf("rank: %w", err))
	}
	if len(recs) == 0 {
		return domain.UserResult{UserID: bu.ID, Status: domain.OutcomeNoRecommendations}
	}

	email := domain.EmailJob{
		UserID:          bu.ID,
		UserEmail:       bu.Email,
		UserName:        bu.Name,
		Recommendations: recs,
		Location:        location,
	}
	if _, err := h.enqueuer.Enqueue(ctx, domain.QueueEmails, email, queue.Options{
		Attempts: h.cfg.EmailAttempts,
		Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: h.cfg.EmailBackoff},
	}); err != nil {
		return failed(fmt.Errorf("enqueue email: %w", err))
	}
	return domain.UserResult{UserID: bu.ID, Status: domain.OutcomeQueued, Count: len(recs)}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
