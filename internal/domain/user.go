package domain

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Default preference values applied when a user has not set them.
const (
	DefaultLocation      = "Mumbai"
	DefaultBudget        = 300.0
	DefaultPriceRangeMin = 50.0
	DefaultPriceRangeMax = 500.0
)

// PriceRange bounds the item prices a user is interested in.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether price falls inside the range (inclusive).
func (r PriceRange) Contains(price float64) bool {
	return price >= r.Min && price <= r.Max
}

// Preferences is the typed form of the user's preference blob.
type Preferences struct {
	DietaryRestrictions []string   `json:"dietaryRestrictions"`
	CuisinePreferences  []string   `json:"cuisinePreferences"`
	PriceRange          PriceRange `json:"priceRange"`
	Budget              float64    `json:"budget"`

	// EmailRecommendations is the opt-in flag for recommendation emails.
	// A nil value means the user never answered and is treated as opted in.
	EmailRecommendations *bool `json:"emailRecommendations,omitempty"`
}

// DefaultPreferences returns the preferences of a user who never set any.
func DefaultPreferences() Preferences {
	return Preferences{
		DietaryRestrictions: []string{},
		CuisinePreferences:  []string{},
		PriceRange:          PriceRange{Min: DefaultPriceRangeMin, Max: DefaultPriceRangeMax},
		Budget:              DefaultBudget,
	}
}

// ParsePreferences decodes a stored preference blob. A parse failure falls back
// to DefaultPreferences instead of propagating an error; missing fields are
// filled with defaults.
func ParsePreferences(raw []byte) Preferences {
	p := DefaultPreferences()
	if len(raw) == 0 {
		return p
	}

	var stored struct {
		DietaryRestrictions []string    `json:"dietaryRestrictions"`
		CuisinePreferences  []string    `json:"cuisinePreferences"`
		PriceRange          *PriceRange `json:"priceRange"`
		Budget              float64     `json:"budget"`
		// legacy shape: {"emailPreferences": {"recommendations": false}}
		EmailPreferences *struct {
			Recommendations *bool `json:"recommendations"`
		} `json:"emailPreferences"`
		EmailRecommendations *bool `json:"emailRecommendations"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return p
	}

	if stored.DietaryRestrictions != nil {
		p.DietaryRestrictions = stored.DietaryRestrictions
	}
	if stored.CuisinePreferences != nil {
		p.CuisinePreferences = stored.CuisinePreferences
	}
	if stored.PriceRange != nil && stored.PriceRange.Max > 0 && stored.PriceRange.Min <= stored.PriceRange.Max {
		p.PriceRange = *stored.PriceRange
	}
	if stored.Budget > 0 {
		p.Budget = stored.Budget
	}
	switch {
	case stored.EmailRecommendations != nil:
		p.EmailRecommendations = stored.EmailRecommendations
	case stored.EmailPreferences != nil:
		p.EmailRecommendations = stored.EmailPreferences.Recommendations
	}
	return p
}

// OptedIn reports whether the user accepts recommendation emails.
func (p Preferences) OptedIn() bool {
	return p.EmailRecommendations == nil || *p.EmailRecommendations
}

// LikesCuisine reports whether cuisine is one of the preferred cuisines
// (case-insensitive).
func (p Preferences) LikesCuisine(cuisine string) bool {
	return slices.ContainsFunc(p.CuisinePreferences, func(c string) bool {
		return strings.EqualFold(c, cuisine)
	})
}

// User is owned by account management; the pipeline only reads it.
type User struct {
	ID          int64       `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Active      bool        `json:"active"`
	Location    string      `json:"location,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// EffectiveLocation returns the user's location or the default one.
func (u *User) EffectiveLocation() string {
	if u.Location == "" {
		return DefaultLocation
	}
	return u.Location
}
