package ranking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
)

// ResilientRanker calls Primary with a bounded timeout and substitutes the
// fallback on any error, including an open circuit.
type ResilientRanker struct {
	primary  Ranker
	fallback Ranker
	timeout  time.Duration
	logger   *zap.Logger

	// OnFallback is optional (nil = no-op).
	OnFallback func(err error)
}

func NewResilientRanker(primary, fallback Ranker, timeout time.Duration, logger *zap.Logger) *ResilientRanker {
	return &ResilientRanker{primary: primary, fallback: fallback, timeout: timeout, logger: logger}
}

func (r *ResilientRanker) Rank(ctx context.Context, user *domain.User, candidates []*domain.Item, limit int) ([]domain.Recommendation, error) {
	pctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	recs, err := r.primary.Rank(pctx, user, candidates, limit)
	if err == nil {
		return recs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	r.logger.Warn("primary ranker failed, using fallback",
		zap.Int64("user_id", user.ID), zap.Error(err))
	if r.OnFallback != nil {
		r.OnFallback(err)
	}
	return r.fallback.Rank(ctx, user, candidates, limit)
}
