package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/platepulse/recommender/internal/domain"
)

const spoonacularPlatform = "spoonacular"

// SpoonacularSource reads random recipes from the Spoonacular API.
type SpoonacularSource struct {
	client *resty.Client
	apiKey string
	count  int
}

func NewSpoonacularSource(baseURL, apiKey string, timeout time.Duration) *SpoonacularSource {
	if baseURL == "" {
		baseURL = "https://api.spoonacular.com"
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &SpoonacularSource{client: client, apiKey: apiKey, count: 20}
}

func (s *SpoonacularSource) Name() string { return spoonacularPlatform }

func (s *SpoonacularSource) Configured() bool { return s.apiKey != "" }

type spoonacularRecipe struct {
	Title            string  `json:"title"`
	Servings         int     `json:"servings"`
	SourceURL        string  `json:"sourceUrl"`
	Summary          string  `json:"summary"`
	Image            string  `json:"image"`
	Vegetarian       bool    `json:"vegetarian"`
	Vegan            bool    `json:"vegan"`
	GlutenFree       bool    `json:"glutenFree"`
	SpoonacularScore float64 `json:"spoonacularScore"`
	Ingredients      []struct {
		Name string `json:"name"`
	} `json:"extendedIngredients"`
}

func (s *SpoonacularSource) FetchCandidates(ctx context.Context, location string) ([]domain.RawItem, error) {
	if !s.Configured() {
		return nil, nil
	}

	var body struct {
		Recipes []spoonacularRecipe `json:"recipes"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apiKey": s.apiKey,
			"number": fmt.Sprint(s.count),
			"tags":   "breakfast,lunch,dinner",
		}).
		SetResult(&body).
		Get("/recipes/random")
	if err != nil {
		return nil, fmt.Errorf("spoonacular: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("spoonacular: status %d", resp.StatusCode())
	}

	items := make([]domain.RawItem, 0, len(body.Recipes))
	for _, r := range body.Recipes {
		items = append(items, s.toRaw(r, location))
	}
	return items, nil
}

func (s *SpoonacularSource) toRaw(r spoonacularRecipe, location string) domain.RawItem {
	price := EstimatePrice(r.Servings, len(r.Ingredients))
	rating := 4.0
	if r.SpoonacularScore > 0 {
		rating = 4.0 + math.Min(r.SpoonacularScore, 100)/100
	}
	return domain.RawItem{
		Name:            r.Title,
		Description:     stripHTML(r.Summary, 300),
		Category:        domain.CategoryFood,
		Platform:        spoonacularPlatform,
		StoreName:       "Spoonacular",
		Price:           ptr(price),
		OriginalPrice:   markup(price, 1.2),
		DiscountPercent: 15,
		Rating:          math.Round(rating*10) / 10,
		Location:        location,
		Cuisine:         DetectCuisine(r.Title),
		DietaryInfo: domain.DietaryInfo{
			"vegetarian": r.Vegetarian,
			"vegan":      r.Vegan,
			"glutenFree": r.GlutenFree,
			"servings":   r.Servings,
		},
		SourceURL: r.SourceURL,
		ImageURL:  r.Image,
	}
}
