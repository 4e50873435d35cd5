package repository

import (
	"context"

	"github.com/platepulse/recommender/internal/domain"
)

// ItemTx is the set of item operations available inside one transaction.
// The ingestion reconciler is the only writer of items.
type ItemTx interface {
	// FindByKey returns the item with the given identity, locking it for the
	// rest of the transaction. Returns domain.ErrNotFound when absent.
	FindByKey(ctx context.Context, key domain.ItemKey) (*domain.Item, error)
	// Insert creates the item and sets its ID. When a concurrent transaction
	// committed the same identity first, that row takes the observation
	// instead and created is false.
	Insert(ctx context.Context, item *domain.Item) (created bool, err error)
	// UpdateObservation persists the mutable fields of an existing item.
	UpdateObservation(ctx context.Context, item *domain.Item) error
	// AppendPriceHistory appends one immutable price observation.
	AppendPriceHistory(ctx context.Context, entry *domain.PriceHistoryEntry) error
}

// ItemStats summarises the item table for the scraping status surface.
type ItemStats struct {
	TotalItems        int            `json:"total_items"`
	TotalPriceRecords int            `json:"total_price_records"`
	ByPlatform        map[string]int `json:"by_platform"`
}

// ItemStore defines persistence for items and their price history.
// The pgx implementation is in pg_item_repo.go.
// Tests use a hand-written in-memory store (mock_item_repo.go).
type ItemStore interface {
	// InTx runs fn in a single transaction. A non-nil error from fn rolls the
	// transaction back; other transactions are unaffected.
	InTx(ctx context.Context, fn func(tx ItemTx) error) error

	// ListAvailable returns available items of a location, best rated first.
	ListAvailable(ctx context.Context, location string, limit int) ([]*domain.Item, error)
	PriceHistory(ctx context.Context, itemID int64) ([]*domain.PriceHistoryEntry, error)
	Stats(ctx context.Context) (*ItemStats, error)
}
