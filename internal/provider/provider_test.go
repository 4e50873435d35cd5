package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/provider"
)

func emailJob(n int) *domain.EmailJob {
	job := &domain.EmailJob{UserID: 3, UserEmail: "ravi@example.com", UserName: "Ravi", Location: "Delhi"}
	for i := 0; i < n; i++ {
		job.Recommendations = append(job.Recommendations, domain.Recommendation{
			Name:       "Dish " + string(rune('A'+i)),
			Reason:     "Well rated",
			MatchScore: 0.7,
			Details:    &domain.RecommendationDetails{Price: 120, Rating: 4.2, Cuisine: "Indian", Discount: 20},
		})
	}
	return job
}

func TestRenderer_Render(t *testing.T) {
	r := provider.NewRenderer("PlatePulse")

	subject, body, err := r.Render(emailJob(7))
	if err != nil {
		t.Fatal(err)
	}
	if subject != "Personalized Food Recommendations for Ravi" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Dish E") || strings.Contains(body, "Dish F") {
		t.Fatal("expected exactly the first five recommendations in the body")
	}
	if !strings.Contains(body, "Delhi") || !strings.Contains(body, "20% OFF") {
		t.Fatalf("body is missing location or details:\n%s", body)
	}
}

func TestRenderer_EscapesHTML(t *testing.T) {
	job := emailJob(1)
	job.Recommendations[0].Name = `<script>alert(1)</script>`

	_, body, err := provider.NewRenderer("").Render(job)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(body, "<script>") {
		t.Fatal("recommendation name was not escaped")
	}
}

func TestWebhookTransport_Send(t *testing.T) {
	var got provider.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"m-1","status":"accepted"}`))
	}))
	defer srv.Close()

	tr := provider.NewWebhookTransport(srv.URL, "key", "noreply@example.com", time.Second)
	if err := tr.Send(context.Background(), "ravi@example.com", "Hi", "<p>x</p>"); err != nil {
		t.Fatal(err)
	}
	if got.To != "ravi@example.com" || got.Subject != "Hi" || got.From != "noreply@example.com" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestWebhookTransport_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := provider.NewWebhookTransport(srv.URL, "", "", time.Second)
	if err := tr.Send(context.Background(), "x@example.com", "s", "b"); err == nil {
		t.Fatal("expected error on 503")
	}
}
