package ingest

import (
	"context"

	"github.com/platepulse/recommender/internal/domain"
)

const syntheticPlatform = "mock"

// SyntheticSource returns a fixed dataset. It backs ingestion runs in which
// the real sources produced too little.
type SyntheticSource struct{}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

func (SyntheticSource) Name() string { return syntheticPlatform }

func (SyntheticSource) Configured() bool { return true }

var syntheticDishes = []struct {
	name     string
	cuisine  string
	price    float64
	discount int
	rating   float64
	veg      bool
}{
	{"Butter Chicken", "Indian", 320, 15, 4.6, false},
	{"Paneer Tikka Masala", "Indian", 260, 20, 4.5, true},
	{"Margherita Pizza", "Italian", 299, 10, 4.3, true},
	{"Penne Arrabbiata", "Italian", 240, 25, 4.1, true},
	{"Chicken Fried Rice", "Chinese", 180, 12, 4.2, false},
	{"Veg Hakka Noodles", "Chinese", 160, 18, 4.0, true},
}

func (SyntheticSource) FetchCandidates(_ context.Context, location string) ([]domain.RawItem, error) {
	items := make([]domain.RawItem, 0, len(syntheticDishes))
	for _, d := range syntheticDishes {
		items = append(items, domain.RawItem{
			Name:            d.name,
			Description:     d.name + " - sample item",
			Category:        domain.CategoryFood,
			Platform:        syntheticPlatform,
			StoreName:       "Mock",
			Price:           ptr(d.price),
			OriginalPrice:   markup(d.price, 1.15),
			DiscountPercent: d.discount,
			Rating:          d.rating,
			Location:        location,
			Cuisine:         d.cuisine,
			DietaryInfo:     domain.DietaryInfo{"vegetarian": d.veg},
		})
	}
	return items, nil
}
