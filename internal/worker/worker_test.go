package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/repository"
	"github.com/platepulse/recommender/internal/worker"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func onlyJob(t *testing.T, store *queue.MemoryStore, q string) *queue.Job {
	t.Helper()
	jobs := store.Jobs(q)
	if len(jobs) != 1 {
		t.Fatalf("expected exactly 1 job on %s, got %d", q, len(jobs))
	}
	return jobs[0]
}

func startWorker(store queue.Store, h worker.Handler, hooks worker.MetricHooks) (stop func()) {
	w := worker.NewWorker(store, domain.QueueEmails, h,
		worker.Options{Concurrency: 2, PollInterval: 5 * time.Millisecond, Lease: time.Minute},
		zap.NewNop(), hooks)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWorker_CompletesAndStoresResult(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	if _, err := client.Enqueue(context.Background(), domain.QueueEmails, map[string]int{"n": 1}, queue.Options{}); err != nil {
		t.Fatal(err)
	}

	var completed atomic.Int32
	stop := startWorker(store, func(_ context.Context, job *queue.Job) (any, error) {
		var in map[string]int
		if err := job.Decode(&in); err != nil {
			return nil, err
		}
		return map[string]int{"doubled": in["n"] * 2}, nil
	}, worker.MetricHooks{OnCompleted: func(string, time.Duration) { completed.Add(1) }})

	waitFor(t, 2*time.Second, func() bool { return onlyJob(t, store, domain.QueueEmails).State == queue.StateCompleted })
	stop()

	job := onlyJob(t, store, domain.QueueEmails)
	var out map[string]int
	if err := json.Unmarshal(job.Result, &out); err != nil || out["doubled"] != 2 {
		t.Fatalf("unexpected result %s (%v)", job.Result, err)
	}
	if completed.Load() != 1 {
		t.Fatalf("expected one completion hook, got %d", completed.Load())
	}
}

func TestWorker_ExhaustedAttemptsFailTerminally(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	_, err := client.Enqueue(context.Background(), domain.QueueEmails, "x", queue.Options{
		Attempts: 3,
		Backoff:  queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}

	var calls, terminal atomic.Int32
	stop := startWorker(store, func(context.Context, *queue.Job) (any, error) {
		calls.Add(1)
		return nil, errors.New("smtp unavailable")
	}, worker.MetricHooks{OnFailed: func(_ string, final bool) {
		if final {
			terminal.Add(1)
		}
	}})

	waitFor(t, 2*time.Second, func() bool { return onlyJob(t, store, domain.QueueEmails).State == queue.StateFailed })
	// Give the consumers time to pick the job up again if they wrongly could.
	time.Sleep(50 * time.Millisecond)
	stop()

	job := onlyJob(t, store, domain.QueueEmails)
	if calls.Load() != 3 || job.AttemptsMade != 3 {
		t.Fatalf("expected exactly 3 deliveries, got calls=%d attempts=%d", calls.Load(), job.AttemptsMade)
	}
	if job.LastError != "smtp unavailable" {
		t.Fatalf("expected last error to be kept, got %q", job.LastError)
	}
	if terminal.Load() != 1 {
		t.Fatalf("expected one terminal failure hook, got %d", terminal.Load())
	}
}

func TestWorker_PanicIsRetried(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	_, _ = client.Enqueue(context.Background(), domain.QueueEmails, "x", queue.Options{
		Backoff: queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond},
	})

	var calls atomic.Int32
	stop := startWorker(store, func(context.Context, *queue.Job) (any, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil, nil
	}, worker.MetricHooks{})

	waitFor(t, 2*time.Second, func() bool { return onlyJob(t, store, domain.QueueEmails).State == queue.StateCompleted })
	stop()

	if job := onlyJob(t, store, domain.QueueEmails); job.AttemptsMade != 2 {
		t.Fatalf("expected completion on attempt 2, got %d", job.AttemptsMade)
	}
}

func TestWorker_InvalidPayloadIsNotRetried(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	_, _ = client.Enqueue(context.Background(), domain.QueueEmails, "x", queue.Options{Attempts: 5})

	stop := startWorker(store, func(context.Context, *queue.Job) (any, error) {
		return nil, domain.ErrInvalidPayload
	}, worker.MetricHooks{})

	waitFor(t, 2*time.Second, func() bool { return onlyJob(t, store, domain.QueueEmails).State == queue.StateFailed })
	stop()

	if job := onlyJob(t, store, domain.QueueEmails); job.AttemptsMade != 1 {
		t.Fatalf("expected a single attempt, got %d", job.AttemptsMade)
	}
}

func TestWorker_ShutdownLetsInFlightJobFinish(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	_, _ = client.Enqueue(context.Background(), domain.QueueEmails, "x", queue.Options{})

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value
	stop := startWorker(store, func(ctx context.Context, _ *queue.Job) (any, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			handlerCtxErr.Store(err)
		}
		return "done", nil
	}, worker.MetricHooks{})

	<-started
	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("worker returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	if err := handlerCtxErr.Load(); err != nil {
		t.Fatalf("handler context was cancelled by shutdown: %v", err)
	}
	job := onlyJob(t, store, domain.QueueEmails)
	if job.State != queue.StateCompleted || job.AttemptsMade != 1 {
		t.Fatalf("expected completion on the first attempt, got state=%s attempts=%d", job.State, job.AttemptsMade)
	}
}

func TestWorker_ShutdownMidBatchSendsEachUserOnce(t *testing.T) {
	users := makeUsers(3)
	items := repository.NewMockItemStore()
	items.Seed(&domain.Item{Name: "Poha", Platform: "mock", Location: "Pune", Price: 60, Rating: 4.2, Available: true})

	store := queue.NewMemoryStore()
	client := queue.NewClient(store)
	h := worker.NewRecommendationHandler(repository.NewMockUserRepository(users...), items, stubRanker{},
		client, worker.RecommendationConfig{UserDelay: 100 * time.Millisecond}, zap.NewNop())

	batch := domain.RecommendationJob{BatchID: "auto-1-0"}
	for _, u := range users {
		batch.Users = append(batch.Users, domain.NewBatchUser(u))
	}
	if _, err := client.Enqueue(context.Background(), domain.QueueRecommendations, batch, queue.Options{}); err != nil {
		t.Fatal(err)
	}

	w := worker.NewWorker(store, domain.QueueRecommendations, h.Handle,
		worker.Options{PollInterval: 5 * time.Millisecond, Lease: time.Minute}, zap.NewNop(), worker.MetricHooks{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return len(store.Jobs(domain.QueueEmails)) >= 1 })
	cancel()
	<-done

	job := onlyJob(t, store, domain.QueueRecommendations)
	if job.State != queue.StateCompleted || job.AttemptsMade != 1 {
		t.Fatalf("expected the batch to finish on its first attempt, got state=%s attempts=%d", job.State, job.AttemptsMade)
	}
	if n := len(store.Jobs(domain.QueueEmails)); n != 3 {
		t.Fatalf("expected one email job per user, got %d", n)
	}
}

func TestWorker_TinyLeaseIsRaised(t *testing.T) {
	store := queue.NewMemoryStore()
	_, _ = queue.NewClient(store).Enqueue(context.Background(), domain.QueueEmails, "x", queue.Options{})

	w := worker.NewWorker(store, domain.QueueEmails, func(context.Context, *queue.Job) (any, error) { return nil, nil },
		worker.Options{PollInterval: 5 * time.Millisecond, Lease: time.Nanosecond}, zap.NewNop(), worker.MetricHooks{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return onlyJob(t, store, domain.QueueEmails).State == queue.StateCompleted })
	cancel()
	<-done
}

func TestJanitor_RecoversExpiredLeases(t *testing.T) {
	store := queue.NewMemoryStore()
	client := queue.NewClient(store).WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	ctx := context.Background()
	_, _ = client.Enqueue(ctx, domain.QueueRecommendations, "x", queue.Options{})

	// Claimed an hour ago with a one-minute lease by a consumer that never
	// came back.
	if job, _ := store.Claim(ctx, domain.QueueRecommendations, time.Now().Add(-time.Hour), time.Minute); job == nil {
		t.Fatal("expected to claim the job")
	}

	depth := map[string]queue.Counts{}
	j := worker.NewJanitorWorker(store, queue.Names, queue.DefaultRetention, time.Minute, zap.NewNop(),
		func(q string, c queue.Counts) { depth[q] = c })
	j.Sweep(ctx)

	job := onlyJob(t, store, domain.QueueRecommendations)
	if job.State != queue.StateWaiting {
		t.Fatalf("expected job back in waiting, got %s", job.State)
	}
	if got := depth[domain.QueueRecommendations]; got.Waiting != 1 || got.Active != 0 {
		t.Fatalf("unexpected depth report: %+v", got)
	}
	if _, ok := depth[domain.QueueEmails]; !ok {
		t.Fatal("expected a depth report for every queue")
	}
}

func TestPool_StartWait(t *testing.T) {
	var stopped atomic.Int32
	r := worker.RunnerFunc(func(ctx context.Context) {
		<-ctx.Done()
		stopped.Add(1)
	})
	p := worker.NewPool(r, r)
	p.Add(worker.ErrRunner("failing", func(context.Context) error { return errors.New("bad cron") }, zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Wait()

	if stopped.Load() != 2 {
		t.Fatalf("expected both runners to stop, got %d", stopped.Load())
	}
}
