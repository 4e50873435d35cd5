package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/platepulse/recommender/internal/domain"
)

const itemColumns = `
	id, name, description, category, platform, store_name, price, original_price,
	discount_percent, rating, available, location, cuisine, dietary_info,
	source_url, image_url, created_at, updated_at`

type pgItemStore struct {
	pool *pgxpool.Pool
}

// NewPgItemStore returns an ItemStore backed by PostgreSQL.
func NewPgItemStore(pool *pgxpool.Pool) ItemStore {
	return &pgItemStore{pool: pool}
}

func (s *pgItemStore) InTx(ctx context.Context, fn func(tx ItemTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgItemTx{tx: tx})
	})
}

func (s *pgItemStore) ListAvailable(ctx context.Context, location string, limit int) ([]*domain.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+itemColumns+`
		FROM items
		WHERE location = $1 AND available = TRUE
		ORDER BY rating DESC, id ASC
		LIMIT $2`, location, limit)
	if err != nil {
		return nil, fmt.Errorf("list available items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *pgItemStore) PriceHistory(ctx context.Context, itemID int64) ([]*domain.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, price, original_price, discount_percent, available, captured_at
		FROM price_history WHERE item_id = $1 ORDER BY captured_at ASC, id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.PriceHistoryEntry
	for rows.Next() {
		var e domain.PriceHistoryEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Price, &e.OriginalPrice,
			&e.DiscountPercent, &e.Available, &e.CapturedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *pgItemStore) Stats(ctx context.Context) (*ItemStats, error) {
	stats := &ItemStats{ByPlatform: make(map[string]int)}

	if err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM items), (SELECT COUNT(*) FROM price_history)`,
	).Scan(&stats.TotalItems, &stats.TotalPriceRecords); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT platform, COUNT(*) FROM items GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("count items by platform: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var n int
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, err
		}
		stats.ByPlatform[platform] = n
	}
	return stats, rows.Err()
}

// ---- transaction ----

type pgItemTx struct {
	tx pgx.Tx
}

func (t *pgItemTx) FindByKey(ctx context.Context, key domain.ItemKey) (*domain.Item, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+itemColumns+`
		FROM items WHERE name = $1 AND platform = $2 AND location = $3
		FOR UPDATE`, key.Name, key.Platform, key.Location)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

// Insert tolerates a concurrent insert of the same identity: the conflicting
// row is updated to this observation instead of failing the transaction.
func (t *pgItemTx) Insert(ctx context.Context, item *domain.Item) (bool, error) {
	info, err := json.Marshal(item.DietaryInfo)
	if err != nil {
		return false, fmt.Errorf("marshal dietary info: %w", err)
	}

	// xmax is 0 only for a freshly inserted row version.
	var inserted bool
	err = t.tx.QueryRow(ctx, `
		INSERT INTO items
			(name, description, category, platform, store_name, price, original_price,
			 discount_percent, rating, available, location, cuisine, dietary_info,
			 source_url, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (name, platform, location) DO UPDATE SET
			price            = EXCLUDED.price,
			original_price   = EXCLUDED.original_price,
			discount_percent = EXCLUDED.discount_percent,
			rating           = EXCLUDED.rating,
			available        = EXCLUDED.available,
			updated_at       = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0) AS inserted`,
		item.Name, item.Description, item.Category, item.Platform, item.StoreName,
		item.Price, item.OriginalPrice, item.DiscountPercent, item.Rating, item.Available,
		item.Location, item.Cuisine, info, item.SourceURL, item.ImageURL,
		item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID, &item.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	return inserted, nil
}

func (t *pgItemTx) UpdateObservation(ctx context.Context, item *domain.Item) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE items
		SET price = $1, original_price = $2, discount_percent = $3, rating = $4,
		    available = $5, updated_at = $6
		WHERE id = $7`,
		item.Price, item.OriginalPrice, item.DiscountPercent, item.Rating,
		item.Available, item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (t *pgItemTx) AppendPriceHistory(ctx context.Context, e *domain.PriceHistoryEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO price_history (item_id, price, original_price, discount_percent, available, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		e.ItemID, e.Price, e.OriginalPrice, e.DiscountPercent, e.Available, e.CapturedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

// ---- helpers ----

// scanItem reads a single item row from any pgx row type.
func scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	var info []byte
	err := row.Scan(
		&it.ID, &it.Name, &it.Description, &it.Category, &it.Platform, &it.StoreName,
		&it.Price, &it.OriginalPrice, &it.DiscountPercent, &it.Rating, &it.Available,
		&it.Location, &it.Cuisine, &info, &it.SourceURL, &it.ImageURL,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.DietaryInfo = domain.ParseDietaryInfo(info)
	return &it, nil
}
