package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Category groups items the way the sources label them.
type Category string

const (
	CategoryFood     Category = "food"
	CategoryGrocery  Category = "grocery"
	CategoryBeverage Category = "beverage"
)

// DietaryInfo is the free-form dietary metadata attached to an item
// (vegetarian, healthLabels, caloriesPerServing, ...).
type DietaryInfo map[string]any

// ParseDietaryInfo decodes stored dietary metadata. Malformed or empty input
// yields an empty map, never an error.
func ParseDietaryInfo(raw []byte) DietaryInfo {
	info := DietaryInfo{}
	if len(raw) == 0 {
		return info
	}
	if err := json.Unmarshal(raw, &info); err != nil || info == nil {
		return DietaryInfo{}
	}
	return info
}

// Item is a canonical food/grocery entity, unique by (Name, Platform, Location).
// It always reflects the latest observation from its source.
type Item struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Category        Category    `json:"category"`
	Platform        string      `json:"platform"`
	StoreName       string      `json:"store_name,omitempty"`
	Price           float64     `json:"price"`
	OriginalPrice   *float64    `json:"original_price,omitempty"`
	DiscountPercent int         `json:"discount_percent"`
	Rating          float64     `json:"rating"`
	Available       bool        `json:"available"`
	Location        string      `json:"location"`
	Cuisine         string      `json:"cuisine,omitempty"`
	DietaryInfo     DietaryInfo `json:"dietary_info"`
	SourceURL       string      `json:"source_url,omitempty"`
	ImageURL        string      `json:"image_url,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Key returns the deduplication key of the item.
func (i *Item) Key() ItemKey {
	return ItemKey{Name: i.Name, Platform: i.Platform, Location: i.Location}
}

// ItemKey is the natural key items are deduplicated on.
type ItemKey struct {
	Name     string
	Platform string
	Location string
}

// PriceHistoryEntry is one immutable price observation for an item.
type PriceHistoryEntry struct {
	ID              int64     `json:"id"`
	ItemID          int64     `json:"item_id"`
	Price           float64   `json:"price"`
	OriginalPrice   *float64  `json:"original_price,omitempty"`
	DiscountPercent int       `json:"discount_percent"`
	Available       bool      `json:"available"`
	CapturedAt      time.Time `json:"captured_at"`
}

// RawItem is an item as fetched from an external source, before reconciliation.
// Price is a pointer so a record that arrived without a price can be told
// apart from a free one.
type RawItem struct {
	Name            string
	Description     string
	Category        Category
	Platform        string
	StoreName       string
	Price           *float64
	OriginalPrice   *float64
	DiscountPercent int
	Rating          float64
	Available       *bool
	Location        string
	Cuisine         string
	DietaryInfo     DietaryInfo
	SourceURL       string
	ImageURL        string
}

// Validate reports ErrMalformedItem when the record cannot be reconciled.
func (r *RawItem) Validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Platform) == "" {
		return ErrMalformedItem
	}
	if r.Price == nil || *r.Price < 0 {
		return ErrMalformedItem
	}
	return nil
}

// Key returns the deduplication key the raw item reconciles against.
func (r *RawItem) Key() ItemKey {
	return ItemKey{Name: r.Name, Platform: r.Platform, Location: r.Location}
}

// IsAvailable defaults a missing availability flag to true.
func (r *RawItem) IsAvailable() bool {
	return r.Available == nil || *r.Available
}

// NewItem builds a fresh item from a validated raw record.
func (r *RawItem) NewItem(now time.Time) *Item {
	category := r.Category
	if category == "" {
		category = CategoryFood
	}
	info := r.DietaryInfo
	if info == nil {
		info = DietaryInfo{}
	}
	return &Item{
		Name:            r.Name,
		Description:     r.Description,
		Category:        category,
		Platform:        r.Platform,
		StoreName:       r.StoreName,
		Price:           *r.Price,
		OriginalPrice:   r.OriginalPrice,
		DiscountPercent: r.DiscountPercent,
		Rating:          r.Rating,
		Available:       r.IsAvailable(),
		Location:        r.Location,
		Cuisine:         r.Cuisine,
		DietaryInfo:     info,
		SourceURL:       r.SourceURL,
		ImageURL:        r.ImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ApplyObservation overwrites the mutable fields of an existing item with the
// values of the latest observation.
func (i *Item) ApplyObservation(r *RawItem, now time.Time) {
	i.Price = *r.Price
	i.OriginalPrice = r.OriginalPrice
	i.DiscountPercent = r.DiscountPercent
	i.Rating = r.Rating
	i.Available = r.IsAvailable()
	i.UpdatedAt = now
}

// HistoryEntry snapshots the observation as a price history row for itemID.
func (r *RawItem) HistoryEntry(itemID int64, now time.Time) *PriceHistoryEntry {
	return &PriceHistoryEntry{
		ItemID:          itemID,
		Price:           *r.Price,
		OriginalPrice:   r.OriginalPrice,
		DiscountPercent: r.DiscountPercent,
		Available:       r.IsAvailable(),
		CapturedAt:      now,
	}
}
