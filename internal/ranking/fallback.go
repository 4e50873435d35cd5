package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/platepulse/recommender/internal/domain"
)

// Score weights of the rule-based ranker.
const (
	weightRating   = 0.3
	weightValue    = 0.4
	weightDiscount = 0.2
	bonusCuisine   = 0.1
)

// FallbackRanker is a deterministic, rule-based ranker. It never fails and
// needs no network, so it backs every other ranker.
type FallbackRanker struct{}

func NewFallbackRanker() *FallbackRanker { return &FallbackRanker{} }

// Rank scores the limit*3 best-rated candidates and returns the top limit.
func (FallbackRanker) Rank(_ context.Context, user *domain.User, candidates []*domain.Item, limit int) ([]domain.Recommendation, error) {
	if limit <= 0 || len(candidates) == 0 {
		return []domain.Recommendation{}, nil
	}
	if pool := limit * 3; len(candidates) > pool {
		candidates = candidates[:pool]
	}

	type scored struct {
		item  *domain.Item
		score float64
	}
	all := make([]scored, len(candidates))
	for i, it := range candidates {
		all[i] = scored{item: it, score: Score(user.Preferences, it)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	if len(all) > limit {
		all = all[:limit]
	}
	recs := make([]domain.Recommendation, len(all))
	for i, s := range all {
		recs[i] = domain.Recommendation{
			Name:       s.item.Name,
			Reason:     Reason(s.item, s.score),
			MatchScore: domain.RoundScore(s.score),
			Details:    DetailsOf(s.item),
		}
	}
	return recs, nil
}

// Score rates an item for a user:
// rating/5*0.3 + max(0, 1-price/budget)*0.4 + discount/100*0.2, plus 0.1
// when the cuisine is one the user prefers.
func Score(prefs domain.Preferences, it *domain.Item) float64 {
	score := it.Rating / 5 * weightRating
	if prefs.Budget > 0 {
		score += math.Max(0, 1-it.Price/prefs.Budget) * weightValue
	}
	score += float64(it.DiscountPercent) / 100 * weightDiscount
	if it.Cuisine != "" && prefs.LikesCuisine(it.Cuisine) {
		score += bonusCuisine
	}
	return score
}

// Reason explains a score in a short human-readable line.
func Reason(it *domain.Item, score float64) string {
	var parts []string
	switch {
	case it.Rating >= 4.5:
		parts = append(parts, "Highly rated")
	case it.Rating >= 4.0:
		parts = append(parts, "Well rated")
	}
	if it.DiscountPercent >= 20 {
		parts = append(parts, fmt.Sprintf("%d%% discount", it.DiscountPercent))
	}
	if score >= 0.8 {
		parts = append(parts, "Great value")
	}
	if len(parts) == 0 {
		return "Recommended for you"
	}
	return strings.Join(parts, " • ")
}
