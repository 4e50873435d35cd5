package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/provider"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/ratelimiter"
	"github.com/platepulse/recommender/internal/repository"
	"github.com/platepulse/recommender/internal/worker"
)

// stubRanker returns one recommendation per call, failing for the users in failFor.
type stubRanker struct {
	failFor map[int64]bool
}

func (r stubRanker) Rank(_ context.Context, user *domain.User, candidates []*domain.Item, _ int) ([]domain.Recommendation, error) {
	if r.failFor[user.ID] {
		return nil, errors.New("ranking timeout")
	}
	return []domain.Recommendation{{Name: candidates[0].Name, Reason: "top rated", MatchScore: 0.9}}, nil
}

func makeUsers(n int) []*domain.User {
	users := make([]*domain.User, n)
	for i := range users {
		id := int64(i + 1)
		users[i] = &domain.User{
			ID: id, Email: "user" + string(rune('a'+i)) + "@example.com", Name: "User",
			Active: true, Location: "Pune", Preferences: domain.DefaultPreferences(),
		}
	}
	return users
}

// claimed enqueues payload and claims it back, as a consumer would see it.
func claimed(t *testing.T, store *queue.MemoryStore, q string, payload any) *queue.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := queue.NewClient(store).Enqueue(ctx, q, payload, queue.Options{}); err != nil {
		t.Fatal(err)
	}
	job, err := store.Claim(ctx, q, time.Now(), time.Minute)
	if err != nil || job == nil {
		t.Fatalf("claim failed: %v", err)
	}
	return job
}

func TestRecommendationHandler_UserFailureDoesNotStopBatch(t *testing.T) {
	users := makeUsers(5)
	items := repository.NewMockItemStore()
	items.Seed(&domain.Item{Name: "Masala Dosa", Platform: "mock", Location: "Pune", Price: 120, Rating: 4.5, Available: true})

	store := queue.NewMemoryStore()
	h := worker.NewRecommendationHandler(
		repository.NewMockUserRepository(users...), items,
		stubRanker{failFor: map[int64]bool{3: true}},
		queue.NewClient(store), worker.RecommendationConfig{}, zap.NewNop(),
	)

	batch := domain.RecommendationJob{BatchID: "auto-1-0", Timestamp: time.Now().UTC()}
	for _, u := range users {
		batch.Users = append(batch.Users, domain.NewBatchUser(u))
	}
	out, err := h.Handle(context.Background(), claimed(t, store, domain.QueueRecommendations, batch))
	if err != nil {
		t.Fatal(err)
	}

	res := out.(*domain.BatchResult)
	if res.Processed != 5 || res.Queued != 4 || res.Failed != 1 {
		t.Fatalf("expected processed=5 queued=4 failed=1, got %+v", res)
	}
	if res.Results[2].UserID != 3 || res.Results[2].Status != domain.OutcomeFailed {
		t.Fatalf("expected user 3 to be recorded as failed, got %+v", res.Results[2])
	}

	emails := store.Jobs(domain.QueueEmails)
	if len(emails) != 4 {
		t.Fatalf("expected 4 email jobs, got %d", len(emails))
	}
	for _, j := range emails {
		if j.MaxAttempts != 3 || j.Backoff.Delay != 5*time.Second || j.Backoff.Type != queue.BackoffExponential {
			t.Fatalf("unexpected email job options: attempts=%d backoff=%+v", j.MaxAttempts, j.Backoff)
		}
		var e domain.EmailJob
		if err := j.Decode(&e); err != nil || e.UserID == 3 || e.Location != "Pune" {
			t.Fatalf("unexpected email payload %+v (%v)", e, err)
		}
	}
}

func TestRecommendationHandler_NoCandidates(t *testing.T) {
	users := makeUsers(1)
	store := queue.NewMemoryStore()
	h := worker.NewRecommendationHandler(
		repository.NewMockUserRepository(users...), repository.NewMockItemStore(),
		stubRanker{}, queue.NewClient(store), worker.RecommendationConfig{}, zap.NewNop(),
	)

	batch := domain.RecommendationJob{BatchID: "b", Users: []domain.BatchUser{domain.NewBatchUser(users[0])}}
	out, err := h.Handle(context.Background(), claimed(t, store, domain.QueueRecommendations, batch))
	if err != nil {
		t.Fatal(err)
	}
	if res := out.(*domain.BatchResult); res.Empty != 1 || res.Queued != 0 {
		t.Fatalf("expected one empty outcome, got %+v", res)
	}
	if n := len(store.Jobs(domain.QueueEmails)); n != 0 {
		t.Fatalf("expected no email jobs, got %d", n)
	}
}

func TestRecommendationHandler_InvalidPayload(t *testing.T) {
	store := queue.NewMemoryStore()
	h := worker.NewRecommendationHandler(
		repository.NewMockUserRepository(), repository.NewMockItemStore(),
		stubRanker{}, queue.NewClient(store), worker.RecommendationConfig{}, zap.NewNop(),
	)
	_, err := h.Handle(context.Background(), claimed(t, store, domain.QueueRecommendations, domain.RecommendationJob{}))
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

// sleepClock advances on every limiter sleep so rate-limited sends run
// instantly while keeping their logical timestamps.
type sleepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *sleepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *sleepClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func emailJob(id int64) domain.EmailJob {
	return domain.EmailJob{
		UserID: id, UserEmail: "u@example.com", UserName: "Asha",
		Recommendations: []domain.Recommendation{{Name: "Idli", Reason: "cheap", MatchScore: 0.7}},
		Location:        "Chennai",
	}
}

func TestEmailHandler_RespectsWindow(t *testing.T) {
	clock := &sleepClock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	limiter := ratelimiter.NewWindow(2, time.Minute).WithClock(clock)

	var sendTimes []time.Time
	transport := &provider.MockTransport{SendErr: func(string) error {
		sendTimes = append(sendTimes, clock.Now())
		return nil
	}}
	h := worker.NewEmailHandler(transport, provider.NewRenderer(""), limiter, zap.NewNop(), nil)

	store := queue.NewMemoryStore()
	for i := int64(1); i <= 5; i++ {
		out, err := h.Handle(context.Background(), claimed(t, store, domain.QueueEmails, emailJob(i)))
		if err != nil {
			t.Fatal(err)
		}
		if res := out.(domain.EmailResult); res.Status != "sent" || res.UserID != i {
			t.Fatalf("unexpected result %+v", res)
		}
	}

	for i := 2; i < len(sendTimes); i++ {
		if gap := sendTimes[i].Sub(sendTimes[i-2]); gap < time.Minute {
			t.Fatalf("sends %d and %d only %v apart", i-2, i, gap)
		}
	}
	if got := len(transport.Sent()); got != 5 {
		t.Fatalf("expected 5 emails, got %d", got)
	}
	if !strings.Contains(transport.Sent()[0].Subject, "Asha") {
		t.Fatalf("unexpected subject %q", transport.Sent()[0].Subject)
	}
}

func TestEmailHandler_TransportErrorIsReturned(t *testing.T) {
	transport := &provider.MockTransport{SendErr: func(string) error { return errors.New("421 try later") }}
	h := worker.NewEmailHandler(transport, provider.NewRenderer(""), ratelimiter.NewWindow(50, time.Minute), zap.NewNop(), nil)

	store := queue.NewMemoryStore()
	if _, err := h.Handle(context.Background(), claimed(t, store, domain.QueueEmails, emailJob(1))); err == nil {
		t.Fatal("expected the transport error")
	}
	if len(transport.Sent()) != 0 {
		t.Fatal("failed send must not be recorded")
	}
}
