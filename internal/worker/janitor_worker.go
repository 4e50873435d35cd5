package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/queue"
)

// JanitorWorker keeps the job store healthy. Every interval it returns
// active jobs with an expired lease to the queue (or fails them when no
// attempts remain), trims finished jobs beyond the retention bounds and
// reports queue depth.
//
// Recovery runs here rather than in the consumers so a job held by a worker
// that died is redelivered even if no consumer of its queue is polling.
type JanitorWorker struct {
	store     queue.Store
	queues    []string
	retention queue.Retention
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	onDepth func(queue string, c queue.Counts)
}

// NewJanitorWorker constructs the janitor. onDepth is optional (nil = no-op).
func NewJanitorWorker(
	store queue.Store,
	queues []string,
	retention queue.Retention,
	interval time.Duration,
	logger *zap.Logger,
	onDepth func(string, queue.Counts),
) *JanitorWorker {
	if onDepth == nil {
		onDepth = func(string, queue.Counts) {}
	}
	return &JanitorWorker{
		store: store, queues: queues, retention: retention,
		interval: interval, logger: logger, now: time.Now, onDepth: onDepth,
	}
}

// Run ticks every interval until ctx is cancelled.
func (jw *JanitorWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(jw.interval)
	defer ticker.Stop()

	jw.logger.Info("janitor worker started", zap.Duration("interval", jw.interval))

	for {
		select {
		case <-ctx.Done():
			jw.logger.Info("janitor worker stopping")
			return
		case <-ticker.C:
			jw.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass over every queue.
func (jw *JanitorWorker) Sweep(ctx context.Context) {
	for _, q := range jw.queues {
		log := jw.logger.With(zap.String("queue", q))
		now := jw.now().UTC()

		recovered, err := jw.store.RecoverExpired(ctx, q, now)
		if err != nil {
			log.Error("lease recovery failed", zap.Error(err))
		} else if recovered > 0 {
			log.Warn("recovered jobs with expired leases", zap.Int("count", recovered))
		}

		trimmed, err := jw.store.Trim(ctx, q, jw.retention, now)
		if err != nil {
			log.Error("retention trim failed", zap.Error(err))
		} else if trimmed > 0 {
			log.Debug("trimmed finished jobs", zap.Int("count", trimmed))
		}

		counts, err := jw.store.Counts(ctx, q, now)
		if err != nil {
			log.Error("queue count failed", zap.Error(err))
			continue
		}
		jw.onDepth(q, counts)
	}
}
