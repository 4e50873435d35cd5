package ranking

import (
	"context"

	"github.com/platepulse/recommender/internal/domain"
)

// Ranker turns a user's preferences and a candidate list into at most limit
// ranked recommendations. Candidates arrive highest rated first.
type Ranker interface {
	Rank(ctx context.Context, user *domain.User, candidates []*domain.Item, limit int) ([]domain.Recommendation, error)
}

// DetailsOf returns the item facts shown next to a recommendation.
func DetailsOf(it *domain.Item) *domain.RecommendationDetails {
	return &domain.RecommendationDetails{
		Price:      it.Price,
		Rating:     it.Rating,
		Cuisine:    it.Cuisine,
		Discount:   it.DiscountPercent,
		Restaurant: it.StoreName,
		Platform:   it.Platform,
	}
}

// WithinPriceRange keeps the candidates whose price falls in the user's range.
func WithinPriceRange(prefs domain.Preferences, candidates []*domain.Item) []*domain.Item {
	out := make([]*domain.Item, 0, len(candidates))
	for _, it := range candidates {
		if prefs.PriceRange.Contains(it.Price) {
			out = append(out, it)
		}
	}
	return out
}
