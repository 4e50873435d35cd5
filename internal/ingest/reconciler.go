package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/repository"
)

// Result describes the effect of reconciling one raw item.
type Result struct {
	Item            *domain.Item
	Created         bool
	HistoryAppended bool
}

// Reconciler merges raw observations into the item store. It is the only
// writer of items and price history.
type Reconciler struct {
	store repository.ItemStore
	now   func() time.Time
}

func NewReconciler(store repository.ItemStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile upserts the item identified by (name, platform, location) and
// appends one price history entry, all in a single transaction. A raw item
// without a name or a numeric price yields domain.ErrMalformedItem and
// touches nothing.
func (r *Reconciler) Reconcile(ctx context.Context, raw *domain.RawItem) (Result, error) {
	if err := raw.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := r.store.InTx(ctx, func(tx repository.ItemTx) error {
		now := r.now().UTC()

		item, err := tx.FindByKey(ctx, raw.Key())
		switch {
		case errors.Is(err, domain.ErrNotFound):
			item = raw.NewItem(now)
			created, err := tx.Insert(ctx, item)
			if err != nil {
				return err
			}
			res.Created = created
		case err != nil:
			return fmt.Errorf("find item: %w", err)
		default:
			item.ApplyObservation(raw, now)
			if err := tx.UpdateObservation(ctx, item); err != nil {
				return err
			}
		}

		if err := tx.AppendPriceHistory(ctx, raw.HistoryEntry(item.ID, now)); err != nil {
			return err
		}
		res.Item = item
		res.HistoryAppended = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
