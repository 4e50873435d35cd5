package ranking_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/ranking"
)

func user(cuisines ...string) *domain.User {
	prefs := domain.DefaultPreferences()
	prefs.CuisinePreferences = cuisines
	return &domain.User{ID: 1, Name: "Asha", Email: "asha@example.com", Active: true, Location: "Pune", Preferences: prefs}
}

func items() []*domain.Item {
	return []*domain.Item{
		{ID: 1, Name: "Paneer Tikka", Price: 240, Rating: 4.7, Cuisine: "Indian", DiscountPercent: 25, Platform: "mock", StoreName: "Spice Hub"},
		{ID: 2, Name: "Margherita", Price: 299, Rating: 4.2, Cuisine: "Italian", Platform: "mock"},
		{ID: 3, Name: "Veg Thali", Price: 200, Rating: 3.9, Cuisine: "Indian", Platform: "mock"},
		{ID: 4, Name: "Sushi Platter", Price: 650, Rating: 4.8, Cuisine: "Japanese", Platform: "mock"},
	}
}

func TestScore(t *testing.T) {
	prefs := domain.DefaultPreferences()
	prefs.CuisinePreferences = []string{"indian"}

	it := &domain.Item{Price: 150, Rating: 4, DiscountPercent: 10, Cuisine: "Indian"}
	// 4/5*0.3 + (1-150/300)*0.4 + 0.1*0.2 + 0.1
	want := 0.24 + 0.2 + 0.02 + 0.1
	if got := ranking.Score(prefs, it); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Score = %v, want %v", got, want)
	}

	over := &domain.Item{Price: 900, Rating: 0}
	if got := ranking.Score(prefs, over); got != 0 {
		t.Fatalf("price above budget must not score negative, got %v", got)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name  string
		item  domain.Item
		score float64
		want  string
	}{
		{"highly rated with discount", domain.Item{Rating: 4.6, DiscountPercent: 30}, 0.5, "Highly rated • 30% discount"},
		{"well rated great value", domain.Item{Rating: 4.1}, 0.85, "Well rated • Great value"},
		{"nothing notable", domain.Item{Rating: 3.0, DiscountPercent: 5}, 0.2, "Recommended for you"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ranking.Reason(&tc.item, tc.score); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFallbackRanker_Rank(t *testing.T) {
	r := ranking.NewFallbackRanker()

	recs, err := r.Rank(context.Background(), user("Indian"), items(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}
	if recs[0].Name != "Paneer Tikka" {
		t.Fatalf("expected Paneer Tikka first, got %q", recs[0].Name)
	}
	if recs[0].MatchScore < recs[1].MatchScore {
		t.Fatalf("recommendations not sorted by score: %+v", recs)
	}
	if recs[0].Details == nil || recs[0].Details.Restaurant != "Spice Hub" || recs[0].Details.Discount != 25 {
		t.Fatalf("details not attached: %+v", recs[0].Details)
	}

	empty, err := r.Rank(context.Background(), user(), nil, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", empty, err)
	}
}

func chatServer(t *testing.T, content string, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLLMRanker_ParsesAndEnriches(t *testing.T) {
	var calls atomic.Int32
	content := "Sure! Here you go:\n" +
		`{"recommendations":[` +
		`{"name":"margherita","reason":"Italian favourite","matchScore":"0.91"},` +
		`{"name":"Unknown Dish","reason":"made up","matchScore":0.99},` +
		`{"name":"Sushi Platter","reason":"out of range","matchScore":0.8},` +
		`{"name":"Veg Thali","reason":"cheap","matchScore":1.7}]}` +
		"\nEnjoy!"
	srv := chatServer(t, content, http.StatusOK, &calls)

	r := ranking.NewLLMRanker(ranking.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second}, zap.NewNop(), nil)
	recs, err := r.Rank(context.Background(), user("Italian"), items(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 known in-range recommendations, got %+v", recs)
	}
	if recs[0].Name != "Margherita" || recs[0].MatchScore != 0.91 || recs[0].Details == nil {
		t.Fatalf("unexpected first recommendation: %+v", recs[0])
	}
	if recs[1].MatchScore != 1 {
		t.Fatalf("score must be clamped to 1, got %v", recs[1].MatchScore)
	}
}

func TestLLMRanker_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
	}{
		{"non-2xx status", `{}`, http.StatusInternalServerError},
		{"no JSON in answer", "I cannot help with that.", http.StatusOK},
		{"no known dishes", `{"recommendations":[{"name":"Ghost","reason":"x","matchScore":0.5}]}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := chatServer(t, tc.content, tc.status, &calls)
			r := ranking.NewLLMRanker(ranking.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop(), nil)
			if _, err := r.Rank(context.Background(), user(), items(), 5); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLLMRanker_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, `{}`, http.StatusBadGateway, &calls)

	var transitions []string
	r := ranking.NewLLMRanker(ranking.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop(),
		func(from, to string) { transitions = append(transitions, from+"->"+to) })

	for i := 0; i < 8; i++ {
		_, _ = r.Rank(context.Background(), user(), items(), 5)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("expected breaker to stop calls after 5 failures, got %d calls", got)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

type failingRanker struct{ err error }

func (f failingRanker) Rank(context.Context, *domain.User, []*domain.Item, int) ([]domain.Recommendation, error) {
	return nil, f.err
}

func TestResilientRanker_FallsBack(t *testing.T) {
	var fellBack error
	r := ranking.NewResilientRanker(failingRanker{errors.New("llm down")}, ranking.NewFallbackRanker(), time.Second, zap.NewNop())
	r.OnFallback = func(err error) { fellBack = err }

	recs, err := r.Rank(context.Background(), user(), items(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected fallback recommendations, got %d", len(recs))
	}
	if fellBack == nil || !strings.Contains(fellBack.Error(), "llm down") {
		t.Fatalf("expected fallback hook to observe the error, got %v", fellBack)
	}
}

func TestResilientRanker_CallerCancelled(t *testing.T) {
	r := ranking.NewResilientRanker(failingRanker{context.Canceled}, ranking.NewFallbackRanker(), time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Rank(ctx, user(), items(), 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
