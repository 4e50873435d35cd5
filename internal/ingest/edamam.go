package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/platepulse/recommender/internal/domain"
)

const edamamPlatform = "edamam"

// EdamamConfig configures the Edamam recipe search source.
type EdamamConfig struct {
	BaseURL  string
	AppID    string
	AppKey   string
	Cuisines []string
	Timeout  time.Duration
	// Interval paces consecutive API calls.
	Interval time.Duration
}

// EdamamSource searches Edamam recipes (API v2), one query per cuisine.
type EdamamSource struct {
	client  *resty.Client
	cfg     EdamamConfig
	limiter *rate.Limiter
}

func NewEdamamSource(cfg EdamamConfig) *EdamamSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.edamam.com"
	}
	if len(cfg.Cuisines) == 0 {
		cfg.Cuisines = []string{"Indian", "Italian"}
	}
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Edamam-Account-User", "default-user")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return &EdamamSource{client: client, cfg: cfg, limiter: limiter}
}

func (s *EdamamSource) Name() string { return edamamPlatform }

func (s *EdamamSource) Configured() bool { return s.cfg.AppID != "" && s.cfg.AppKey != "" }

type edamamRecipe struct {
	Label        string   `json:"label"`
	Yield        float64  `json:"yield"`
	Calories     float64  `json:"calories"`
	URL          string   `json:"url"`
	Image        string   `json:"image"`
	HealthLabels []string `json:"healthLabels"`
	DietLabels   []string `json:"dietLabels"`
	Ingredients  []struct {
		Text string `json:"text"`
	} `json:"ingredients"`
}

// FetchCandidates queries every configured cuisine. A failing cuisine does
// not stop the others; the joined errors are returned with whatever items
// were collected.
func (s *EdamamSource) FetchCandidates(ctx context.Context, location string) ([]domain.RawItem, error) {
	if !s.Configured() {
		return nil, nil
	}

	var items []domain.RawItem
	var errs []error
	for _, cuisine := range s.cfg.Cuisines {
		if err := s.limiter.Wait(ctx); err != nil {
			return items, err
		}

		var body struct {
			Hits []struct {
				Recipe *edamamRecipe `json:"recipe"`
			} `json:"hits"`
		}
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"type":    "public",
				"q":       cuisine + " recipe",
				"app_id":  s.cfg.AppID,
				"app_key": s.cfg.AppKey,
			}).
			SetResult(&body).
			Get("/api/recipes/v2")
		if err != nil {
			errs = append(errs, fmt.Errorf("edamam %s: %w", cuisine, err))
			continue
		}
		if !resp.IsSuccess() {
			errs = append(errs, fmt.Errorf("edamam %s: status %d", cuisine, resp.StatusCode()))
			continue
		}

		for _, hit := range body.Hits {
			if hit.Recipe == nil {
				continue
			}
			items = append(items, toEdamamRaw(hit.Recipe, cuisine, location))
		}
	}
	return items, errors.Join(errs...)
}

func toEdamamRaw(r *edamamRecipe, cuisine, location string) domain.RawItem {
	servings := int(math.Max(1, math.Round(r.Yield)))
	if r.Yield == 0 {
		servings = 2
	}
	ingredients := len(r.Ingredients)
	if ingredients == 0 {
		ingredients = 5
	}
	price := EstimatePrice(servings, ingredients)

	name := r.Label
	if name == "" {
		name = "Unknown Recipe"
	}

	info := domain.DietaryInfo{
		"healthLabels": firstN(r.HealthLabels, 5),
		"dietLabels":   firstN(r.DietLabels, 3),
	}
	if r.Calories > 0 && r.Yield > 0 {
		info["caloriesPerServing"] = math.Round(r.Calories / r.Yield)
	}

	return domain.RawItem{
		Name:            name,
		Description:     name + " - " + cuisine + " cuisine",
		Category:        domain.CategoryFood,
		Platform:        edamamPlatform,
		StoreName:       "Edamam",
		Price:           ptr(price),
		OriginalPrice:   markup(price, 1.15),
		DiscountPercent: 12,
		Rating:          math.Round(stableRating(name)*10) / 10,
		Location:        location,
		Cuisine:         cuisine,
		DietaryInfo:     info,
		SourceURL:       r.URL,
		ImageURL:        truncate(r.Image, 500),
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
