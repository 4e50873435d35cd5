package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/queue"
)

// Handler processes one job. The returned value is stored as the job result;
// a returned error schedules a retry or, on the last attempt, fails the job.
type Handler func(ctx context.Context, job *queue.Job) (any, error)

// Defaults for Options fields left zero.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultLease        = 2 * time.Minute
	// MinLease is the shortest lease accepted; shorter values are raised.
	MinLease = time.Second
)

// writeTimeout bounds the bookkeeping write made after a handler returns.
// It runs on a context detached from shutdown so the outcome is recorded.
const writeTimeout = 5 * time.Second

// Options configures a Worker.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible to other consumers.
	// A heartbeat extends it every Lease/3 while the handler runs.
	Lease time.Duration
}

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnCompleted func(queue string, latency time.Duration)
	// terminal is true when the job will not be retried.
	OnFailed func(queue string, terminal bool)
}

// Worker consumes one queue with a fixed number of goroutines. Goroutines
// coordinate only through the queue store: each claims a job, runs the
// handler, then completes, retries or fails it.
type Worker struct {
	store   queue.Store
	queue   string
	handler Handler
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	onCompleted func(string, time.Duration)
	onFailed    func(string, bool)
}

// NewWorker constructs a consumer for queueName. Hooks are optional (nil = no-op).
func NewWorker(store queue.Store, queueName string, handler Handler, opts Options, logger *zap.Logger, hooks MetricHooks) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	} else if opts.Lease < MinLease {
		opts.Lease = MinLease
	}
	if hooks.OnCompleted == nil {
		hooks.OnCompleted = func(string, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(string, bool) {}
	}
	return &Worker{
		store: store, queue: queueName, handler: handler, opts: opts,
		logger: logger.With(zap.String("queue", queueName)), now: time.Now,
		onCompleted: hooks.OnCompleted, onFailed: hooks.OnFailed,
	}
}

// Run blocks until ctx is cancelled and every in-flight job has been settled.
// Cancelling ctx stops new claims only; a job already claimed runs to
// completion.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("concurrency", w.opts.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, w.logger.With(zap.Int("slot", slot)))
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, log *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.store.Claim(ctx, w.queue, w.now().UTC(), w.opts.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", zap.Error(err))
			_ = sleep(ctx, w.opts.PollInterval)
			continue
		}
		if job == nil {
			_ = sleep(ctx, w.opts.PollInterval)
			continue
		}
		w.process(ctx, log, job)
	}
}

func (w *Worker) process(ctx context.Context, log *zap.Logger, job *queue.Job) {
	start := time.Now()
	log = log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.AttemptsMade))

	// Shutdown does not interrupt the handler. Only a lost lease does.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	// A lost lease means the job was redelivered elsewhere; stop working on it.
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		if errors.Is(w.heartbeat(runCtx, job), domain.ErrLeaseLost) {
			log.Warn("lease lost, abandoning job")
			cancel()
		}
	}()

	result, err := w.invoke(runCtx, job)
	cancel()
	hb.Wait()

	writeCtx, done := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer done()

	if err == nil {
		err = w.complete(writeCtx, job, result)
		if err == nil {
			elapsed := time.Since(start)
			w.onCompleted(w.queue, elapsed)
			log.Info("job completed", zap.Duration("latency", elapsed))
			return
		}
		if errors.Is(err, domain.ErrLeaseLost) {
			log.Warn("job finished after its lease was lost; result discarded")
			return
		}
	}

	w.handleFailure(writeCtx, log, job, err)
}

// invoke runs the handler and turns a panic into an error.
func (w *Worker) invoke(ctx context.Context, job *queue.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) complete(ctx context.Context, job *queue.Job, result any) error {
	var body []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		body = b
	}
	return w.store.Complete(ctx, job.ID, job.AttemptsMade, body, w.now().UTC())
}

// handleFailure either schedules a retry with the job's backoff or, when the
// attempt was the last one or the payload can never be processed, marks the
// job as failed.
func (w *Worker) handleFailure(ctx context.Context, log *zap.Logger, job *queue.Job, cause error) {
	now := w.now().UTC()
	terminal := job.Exhausted() || errors.Is(cause, domain.ErrInvalidPayload)

	var err error
	if terminal {
		err = w.store.Fail(ctx, job.ID, job.AttemptsMade, cause.Error(), now)
	} else {
		runAt := now.Add(job.Backoff.After(job.AttemptsMade))
		err = w.store.Retry(ctx, job.ID, job.AttemptsMade, runAt, cause.Error(), now)
	}

	switch {
	case errors.Is(err, domain.ErrLeaseLost):
		log.Warn("job failed after its lease was lost", zap.Error(cause))
		return
	case err != nil:
		log.Error("failed to record job failure", zap.Error(err), zap.NamedError("cause", cause))
		return
	}

	w.onFailed(w.queue, terminal)
	if terminal {
		log.Error("job failed permanently", zap.Error(cause), zap.Int("max_attempts", job.MaxAttempts))
		return
	}
	log.Warn("job failed, retry scheduled", zap.Error(cause))
}

// heartbeat extends the lease until ctx is done.
func (w *Worker) heartbeat(ctx context.Context, job *queue.Job) error {
	ticker := time.NewTicker(w.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := w.store.Extend(ctx, job.ID, job.AttemptsMade, w.now().UTC().Add(w.opts.Lease))
			if errors.Is(err, domain.ErrLeaseLost) {
				return err
			}
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("lease extension failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}
