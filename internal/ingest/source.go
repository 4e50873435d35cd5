package ingest

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/platepulse/recommender/internal/domain"
)

// Source fetches candidate items for a location from one external provider.
type Source interface {
	Name() string
	// Configured reports whether the source has the credentials it needs.
	// An unconfigured source returns no items.
	Configured() bool
	FetchCandidates(ctx context.Context, location string) ([]domain.RawItem, error)
}

// Price estimate parameters for recipe sources that carry no price.
const (
	basePrice     = 60
	perServing    = 60
	perIngredient = 10
)

// EstimatePrice derives a price from a recipe's size.
func EstimatePrice(servings, ingredients int) float64 {
	return float64(basePrice + servings*perServing + ingredients*perIngredient)
}

var cuisineKeywords = []struct {
	cuisine  string
	keywords []string
}{
	{"Indian", []string{"curry", "biryani", "tikka", "masala", "paneer", "dal"}},
	{"Italian", []string{"pizza", "pasta", "risotto", "lasagna"}},
	{"Chinese", []string{"rice", "noodle", "dumpling"}},
}

// DetectCuisine guesses a cuisine from a dish title.
func DetectCuisine(title string) string {
	t := strings.ToLower(title)
	if t == "" {
		return "multi-cuisine"
	}
	for _, c := range cuisineKeywords {
		for _, k := range c.keywords {
			if strings.Contains(t, k) {
				return c.cuisine
			}
		}
	}
	return "multi-cuisine"
}

// stableRating maps a name onto [4.0, 5.0) deterministically, for sources
// that publish no rating.
func stableRating(name string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return 4.0 + float64(h.Sum32()%100)/100
}

var htmlTag = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string, max int) string {
	s = strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	return s
}

func markup(price, factor float64) *float64 {
	v := math.Round(price * factor)
	return &v
}

func ptr[T any](v T) *T { return &v }
