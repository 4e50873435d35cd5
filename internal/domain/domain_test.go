package domain_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/platepulse/recommender/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestRawItem_Validate(t *testing.T) {
	valid := domain.RawItem{Name: "Butter Chicken", Platform: "mock", Price: ptr(320.0)}

	t.Run("valid item passes", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("missing price", func(t *testing.T) {
		r := valid
		r.Price = nil
		if err := r.Validate(); err != domain.ErrMalformedItem {
			t.Fatalf("expected ErrMalformedItem, got %v", err)
		}
	})

	t.Run("negative price", func(t *testing.T) {
		r := valid
		r.Price = ptr(-1.0)
		if err := r.Validate(); err != domain.ErrMalformedItem {
			t.Fatalf("expected ErrMalformedItem, got %v", err)
		}
	})

	t.Run("blank name", func(t *testing.T) {
		r := valid
		r.Name = "  "
		if err := r.Validate(); err != domain.ErrMalformedItem {
			t.Fatalf("expected ErrMalformedItem, got %v", err)
		}
	})

	t.Run("zero price is a real price", func(t *testing.T) {
		r := valid
		r.Price = ptr(0.0)
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestItem_ApplyObservation(t *testing.T) {
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	raw := domain.RawItem{Name: "Pizza", Platform: "mock", Location: "Pune", Price: ptr(299.0), Rating: 4.2, Cuisine: "Italian"}
	item := raw.NewItem(created)

	later := created.Add(4 * time.Hour)
	update := raw
	update.Price = ptr(249.0)
	update.DiscountPercent = 17
	update.Available = ptr(false)
	item.ApplyObservation(&update, later)

	if item.Price != 249 || item.DiscountPercent != 17 || item.Available {
		t.Fatalf("observation not applied: %+v", item)
	}
	if !item.CreatedAt.Equal(created) || !item.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", item.CreatedAt, item.UpdatedAt)
	}
	if item.Cuisine != "Italian" {
		t.Fatalf("immutable field changed: cuisine=%q", item.Cuisine)
	}
}

func TestParsePreferences(t *testing.T) {
	defaults := domain.DefaultPreferences()

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p domain.Preferences)
	}{
		{"empty blob gives defaults", "", func(t *testing.T, p domain.Preferences) {
			if !reflect.DeepEqual(p, defaults) {
				t.Fatalf("expected defaults, got %+v", p)
			}
		}},
		{"garbage gives defaults", "{not json", func(t *testing.T, p domain.Preferences) {
			if !reflect.DeepEqual(p, defaults) {
				t.Fatalf("expected defaults, got %+v", p)
			}
		}},
		{"wrong type gives defaults", `{"budget":"lots"}`, func(t *testing.T, p domain.Preferences) {
			if !reflect.DeepEqual(p, defaults) {
				t.Fatalf("expected defaults, got %+v", p)
			}
		}},
		{"fields are read", `{"cuisinePreferences":["Indian"],"budget":450,"priceRange":{"min":100,"max":400}}`, func(t *testing.T, p domain.Preferences) {
			if p.Budget != 450 || p.PriceRange.Min != 100 || p.PriceRange.Max != 400 {
				t.Fatalf("unexpected preferences: %+v", p)
			}
			if !p.LikesCuisine("indian") {
				t.Fatal("expected case-insensitive cuisine match")
			}
		}},
		{"inverted price range is ignored", `{"priceRange":{"min":500,"max":100}}`, func(t *testing.T, p domain.Preferences) {
			if p.PriceRange != defaults.PriceRange {
				t.Fatalf("expected default range, got %+v", p.PriceRange)
			}
		}},
		{"legacy opt-out", `{"emailPreferences":{"recommendations":false}}`, func(t *testing.T, p domain.Preferences) {
			if p.OptedIn() {
				t.Fatal("expected user to be opted out")
			}
		}},
		{"missing flag means opted in", `{}`, func(t *testing.T, p domain.Preferences) {
			if !p.OptedIn() {
				t.Fatal("expected user to be opted in")
			}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, domain.ParsePreferences([]byte(tc.raw)))
		})
	}
}

func TestParseDietaryInfo(t *testing.T) {
	if got := domain.ParseDietaryInfo([]byte("[1,2]")); len(got) != 0 {
		t.Fatalf("expected empty info for non-object, got %v", got)
	}
	if got := domain.ParseDietaryInfo([]byte("null")); got == nil {
		t.Fatal("expected non-nil map for null")
	}
	got := domain.ParseDietaryInfo([]byte(`{"vegan":true}`))
	if got["vegan"] != true {
		t.Fatalf("expected vegan=true, got %v", got)
	}
}

func TestEmailJob_WireShape(t *testing.T) {
	job := domain.EmailJob{
		UserID:    7,
		UserEmail: "asha@example.com",
		UserName:  "Asha",
		Location:  "Pune",
		Recommendations: []domain.Recommendation{
			{Name: "Dosa", Reason: "Highly rated", MatchScore: 0.87},
			{Name: "Idli", Reason: "Great value", MatchScore: 0.5, Details: &domain.RecommendationDetails{Price: 90, Rating: 4.6}},
		},
	}

	b, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"userId", "userEmail", "userName", "recommendations", "location"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing wire field %q in %s", key, b)
		}
	}

	var back domain.EmailJob
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(job, back) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, job)
	}
}

func TestMatchScore_AcceptsString(t *testing.T) {
	var rec domain.Recommendation
	if err := json.Unmarshal([]byte(`{"name":"x","reason":"y","matchScore":"0.73"}`), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.MatchScore != 0.73 {
		t.Fatalf("expected 0.73, got %v", rec.MatchScore)
	}
}

func TestRoundScore(t *testing.T) {
	cases := map[float64]domain.MatchScore{1.4: 1, -0.2: 0, 0.456: 0.46}
	for in, want := range cases {
		if got := domain.RoundScore(in); got != want {
			t.Fatalf("RoundScore(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestBatchResult_Record(t *testing.T) {
	var r domain.BatchResult
	r.Record(domain.UserResult{UserID: 1, Status: domain.OutcomeQueued, Count: 3})
	r.Record(domain.UserResult{UserID: 2, Status: domain.OutcomeFailed, Error: "boom"})
	r.Record(domain.UserResult{UserID: 3, Status: domain.OutcomeNoRecommendations})

	if r.Processed != 3 || r.Queued != 1 || r.Failed != 1 || r.Empty != 1 {
		t.Fatalf("unexpected counters: %+v", r)
	}
}
