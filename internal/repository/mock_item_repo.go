package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/platepulse/recommender/internal/domain"
)

// MockItemStore is a hand-written, in-memory implementation of ItemStore used
// in unit tests. Transactions are serialised and applied to a staged copy, so a
// failing transaction leaves no trace.
type MockItemStore struct {
	mu      sync.Mutex
	items   map[domain.ItemKey]*domain.Item
	history []*domain.PriceHistoryEntry
	nextID  int64
	nextHID int64

	// Optional error overrides: set in tests to simulate failure paths.
	ListErr error
	// FailInsert makes Insert fail for matching keys.
	FailInsert func(key domain.ItemKey) error
	// MissFind makes FindByKey report matching keys as absent, as if another
	// transaction committed the row after the lookup.
	MissFind func(key domain.ItemKey) bool
}

func NewMockItemStore() *MockItemStore {
	return &MockItemStore{items: make(map[domain.ItemKey]*domain.Item)}
}

func (m *MockItemStore) InTx(_ context.Context, fn func(tx ItemTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockItemTx{
		store:   m,
		items:   maps.Clone(m.items),
		nextID:  m.nextID,
		nextHID: m.nextHID,
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.items = tx.items
	m.history = append(m.history, tx.history...)
	m.nextID = tx.nextID
	m.nextHID = tx.nextHID
	return nil
}

func (m *MockItemStore) ListAvailable(_ context.Context, location string, limit int) ([]*domain.Item, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Item
	for _, it := range m.items {
		if it.Location == location && it.Available {
			clone := *it
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockItemStore) PriceHistory(_ context.Context, itemID int64) ([]*domain.PriceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PriceHistoryEntry
	for _, e := range m.history {
		if e.ItemID == itemID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockItemStore) Stats(_ context.Context) (*ItemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &ItemStats{
		TotalItems:        len(m.items),
		TotalPriceRecords: len(m.history),
		ByPlatform:        make(map[string]int),
	}
	for _, it := range m.items {
		stats.ByPlatform[it.Platform]++
	}
	return stats, nil
}

// Items returns a snapshot of every stored item ordered by ID.
func (m *MockItemStore) Items() []*domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Item, 0, len(m.items))
	for _, it := range m.items {
		clone := *it
		out = append(out, &clone)
	}
	slices.SortFunc(out, func(a, b *domain.Item) int { return int(a.ID - b.ID) })
	return out
}

// Seed stores items directly, bypassing reconciliation.
func (m *MockItemStore) Seed(items ...*domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.nextID++
		clone := *it
		clone.ID = m.nextID
		m.items[clone.Key()] = &clone
	}
}

type mockItemTx struct {
	store   *MockItemStore
	items   map[domain.ItemKey]*domain.Item
	history []*domain.PriceHistoryEntry
	nextID  int64
	nextHID int64
}

func (t *mockItemTx) FindByKey(_ context.Context, key domain.ItemKey) (*domain.Item, error) {
	if t.store.MissFind != nil && t.store.MissFind(key) {
		return nil, domain.ErrNotFound
	}
	it, ok := t.items[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *it
	return &clone, nil
}

func (t *mockItemTx) Insert(_ context.Context, item *domain.Item) (bool, error) {
	if t.store.FailInsert != nil {
		if err := t.store.FailInsert(item.Key()); err != nil {
			return false, err
		}
	}
	// Same conflict handling as the ON CONFLICT clause in pg_item_repo.go.
	if existing, ok := t.items[item.Key()]; ok {
		row := *existing
		row.Price = item.Price
		row.OriginalPrice = item.OriginalPrice
		row.DiscountPercent = item.DiscountPercent
		row.Rating = item.Rating
		row.Available = item.Available
		row.UpdatedAt = item.UpdatedAt
		t.items[item.Key()] = &row
		item.ID = row.ID
		item.CreatedAt = row.CreatedAt
		return false, nil
	}
	t.nextID++
	item.ID = t.nextID
	clone := *item
	t.items[item.Key()] = &clone
	return true, nil
}

func (t *mockItemTx) UpdateObservation(_ context.Context, item *domain.Item) error {
	if _, ok := t.items[item.Key()]; !ok {
		return domain.ErrNotFound
	}
	clone := *item
	t.items[item.Key()] = &clone
	return nil
}

func (t *mockItemTx) AppendPriceHistory(_ context.Context, e *domain.PriceHistoryEntry) error {
	t.nextHID++
	e.ID = t.nextHID
	clone := *e
	t.history = append(t.history, &clone)
	return nil
}
