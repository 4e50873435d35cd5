package worker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/repository"
)

const (
	stateIdle int32 = iota
	stateRunning
)

// Batch priorities: the first batch of a run gets maxBatchPriority and every
// later batch one less, down to 1.
const (
	maxBatchPriority = 10
	testRunPriority  = maxBatchPriority
)

// SchedulerConfig tunes the recommendation scheduler.
type SchedulerConfig struct {
	// Cron is a standard five-field cron expression.
	Cron       string
	BatchSize  int
	BatchDelay time.Duration
}

// ScheduleResult reports what one recommendation run enqueued.
type ScheduleResult struct {
	BatchesQueued int       `json:"batchesQueued"`
	UsersQueued   int       `json:"usersQueued"`
	BatchIDs      []string  `json:"batchIds"`
	StartedAt     time.Time `json:"startedAt"`
}

// SchedulerStatus is the status-surface view of the recommendation scheduler.
type SchedulerStatus struct {
	Running   bool            `json:"isRunning"`
	Cron      string          `json:"cron"`
	BatchSize int             `json:"batchSize"`
	LastRun   *ScheduleResult `json:"lastRun"`
	NextRun   *time.Time      `json:"nextRun,omitempty"`
}

// RecommendationScheduler partitions opted-in active users into batches and
// enqueues one recommendation job per batch. Runs are started by cron or
// manually; at most one run is in flight at a time.
type RecommendationScheduler struct {
	users    repository.UserRepository
	enqueuer Enqueuer
	cfg      SchedulerConfig
	logger   *zap.Logger
	now      func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	lastRun *ScheduleResult
	nextRun time.Time
}

func NewRecommendationScheduler(
	users repository.UserRepository,
	enqueuer Enqueuer,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *RecommendationScheduler {
	if cfg.Cron == "" {
		cfg.Cron = "0 8 * * *"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &RecommendationScheduler{
		users: users, enqueuer: enqueuer, cfg: cfg,
		logger: logger, now: time.Now,
	}
}

// Run starts the cron schedule and blocks until ctx is cancelled. It returns
// an error only when the cron expression is invalid.
func (s *RecommendationScheduler) Run(ctx context.Context) error {
	return runCron(ctx, s.cfg.Cron, s.logger, "recommendation scheduler", func() {
		if _, err := s.TriggerRecommendationRun(ctx); err != nil {
			s.logger.Error("scheduled recommendation run failed", zap.Error(err))
		}
	}, s.setNextRun)
}

// TriggerRecommendationRun enqueues one job per batch of opted-in active
// users. It returns domain.ErrRunInProgress, with nothing enqueued, when
// another run has not finished yet.
func (s *RecommendationScheduler) TriggerRecommendationRun(ctx context.Context) (*ScheduleResult, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		s.logger.Warn("recommendation run already in progress, skipping")
		return nil, domain.ErrRunInProgress
	}
	defer s.state.Store(stateIdle)

	start := s.now().UTC()
	res := &ScheduleResult{BatchIDs: []string{}, StartedAt: start}

	users, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	var eligible []domain.BatchUser
	for _, u := range users {
		if u.Active && u.Preferences.OptedIn() {
			eligible = append(eligible, domain.NewBatchUser(u))
		}
	}
	if len(eligible) == 0 {
		s.logger.Info("no opted-in active users, nothing to schedule")
		s.recordRun(res)
		return res, nil
	}

	for i, batch := range partition(eligible, s.cfg.BatchSize) {
		job := domain.RecommendationJob{
			BatchID:   fmt.Sprintf("auto-%d-%d", start.UnixMilli(), i),
			Users:     batch,
			Timestamp: start,
		}
		_, err := s.enqueuer.Enqueue(ctx, domain.QueueRecommendations, job, queue.Options{
			Priority: maxBatchPriority - min(i, maxBatchPriority-1),
			Delay:    time.Duration(i) * s.cfg.BatchDelay,
		})
		if err != nil {
			s.recordRun(res)
			return res, fmt.Errorf("enqueue batch %s: %w", job.BatchID, err)
		}
		res.BatchesQueued++
		res.UsersQueued += len(batch)
		res.BatchIDs = append(res.BatchIDs, job.BatchID)
	}

	s.logger.Info("recommendation batches queued",
		zap.Int("batches", res.BatchesQueued),
		zap.Int("users", res.UsersQueued),
	)
	s.recordRun(res)
	return res, nil
}

// TriggerUserTestRun enqueues a single-user batch at top priority.
func (s *RecommendationScheduler) TriggerUserTestRun(ctx context.Context, userID int64) (string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.Active {
		return "", domain.ErrUserInactive
	}

	now := s.now().UTC()
	job := domain.RecommendationJob{
		BatchID:   fmt.Sprintf("test-%d-%d", now.UnixMilli(), u.ID),
		Users:     []domain.BatchUser{domain.NewBatchUser(u)},
		Timestamp: now,
	}
	if _, err := s.enqueuer.Enqueue(ctx, domain.QueueRecommendations, job, queue.Options{Priority: testRunPriority}); err != nil {
		return "", fmt.Errorf("enqueue test batch: %w", err)
	}
	s.logger.Info("test recommendation batch queued", zap.Int64("user_id", u.ID), zap.String("batch_id", job.BatchID))
	return job.BatchID, nil
}

// Running reports whether a run is in flight.
func (s *RecommendationScheduler) Running() bool {
	return s.state.Load() == stateRunning
}

// Status returns a snapshot of the scheduler.
func (s *RecommendationScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{
		Running:   s.Running(),
		Cron:      s.cfg.Cron,
		BatchSize: s.cfg.BatchSize,
	}
	if s.lastRun != nil {
		last := *s.lastRun
		last.BatchIDs = slices.Clone(last.BatchIDs)
		st.LastRun = &last
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	return st
}

func (s *RecommendationScheduler) recordRun(res *ScheduleResult) {
	s.mu.Lock()
	s.lastRun = res
	s.mu.Unlock()
}

func (s *RecommendationScheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// ---- helpers ----

// partition splits users, in order, into consecutive batches of size n.
func partition(users []domain.BatchUser, n int) [][]domain.BatchUser {
	var batches [][]domain.BatchUser
	for start := 0; start < len(users); start += n {
		end := min(start+n, len(users))
		batches = append(batches, users[start:end])
	}
	return batches
}

// runCron runs fn on spec until ctx is cancelled, then waits for a running
// fn to return. onNext, when set, receives the next activation time.
func runCron(ctx context.Context, spec string, logger *zap.Logger, name string, fn func(), onNext func(time.Time)) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("%s: invalid cron %q: %w", name, spec, err)
	}
	if onNext == nil {
		onNext = func(time.Time) {}
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		onNext(sched.Next(time.Now()))
		fn()
	}))
	onNext(sched.Next(time.Now()))
	c.Start()
	logger.Info(name+" started", zap.String("cron", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info(name + " stopping")
	return nil
}
