package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/platepulse/recommender/internal/domain"
)

// DefaultMinItems is the committed-item threshold below which the synthetic
// dataset is ingested as well.
const DefaultMinItems = 10

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnIngested func(platform string)
	OnSkipped  func(platform string)
}

// RunResult summarises one ingestion run for a location.
type RunResult struct {
	Location     string         `json:"location"`
	Committed    int            `json:"committed"`
	Created      int            `json:"created"`
	Skipped      int            `json:"skipped"`
	ByPlatform   map[string]int `json:"byPlatform"`
	UsedFallback bool           `json:"usedFallback"`
	Errors       []string       `json:"errors,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
}

// Ingestor fetches every source for a location and reconciles the results.
type Ingestor struct {
	sources    []Source
	fallback   Source
	reconciler *Reconciler
	minItems   int
	logger     *zap.Logger
	hooks      MetricHooks
}

func NewIngestor(sources []Source, fallback Source, reconciler *Reconciler, minItems int, logger *zap.Logger, hooks MetricHooks) *Ingestor {
	if minItems <= 0 {
		minItems = DefaultMinItems
	}
	if hooks.OnIngested == nil {
		hooks.OnIngested = func(string) {}
	}
	if hooks.OnSkipped == nil {
		hooks.OnSkipped = func(string) {}
	}
	return &Ingestor{
		sources: sources, fallback: fallback, reconciler: reconciler,
		minItems: minItems, logger: logger, hooks: hooks,
	}
}

// SourceStatus reports whether each source is configured.
func (in *Ingestor) SourceStatus() map[string]bool {
	status := make(map[string]bool, len(in.sources))
	for _, s := range in.sources {
		status[s.Name()] = s.Configured()
	}
	return status
}

// Run ingests location. Source failures and per-item errors are recorded in
// the result; Run itself fails only when ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context, location string) (*RunResult, error) {
	res := &RunResult{
		Location:   location,
		ByPlatform: make(map[string]int),
		StartedAt:  time.Now().UTC(),
	}
	log := in.logger.With(zap.String("location", location))

	fetched := make([][]domain.RawItem, len(in.sources))
	fetchErrs := make([]error, len(in.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range in.sources {
		if !src.Configured() {
			continue
		}
		g.Go(func() error {
			items, err := src.FetchCandidates(gctx, location)
			fetched[i] = items
			if err != nil {
				fetchErrs[i] = fmt.Errorf("%s: %w", src.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range in.sources {
		if err := fetchErrs[i]; err != nil {
			log.Warn("source fetch failed", zap.String("source", src.Name()), zap.Error(err))
			res.Errors = append(res.Errors, err.Error())
		}
		in.reconcileAll(ctx, log, fetched[i], res)
	}

	if res.Committed < in.minItems && in.fallback != nil {
		log.Info("too few items ingested, adding fallback dataset",
			zap.Int("committed", res.Committed), zap.Int("min_items", in.minItems))
		items, err := in.fallback.FetchCandidates(ctx, location)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", in.fallback.Name(), err))
		}
		in.reconcileAll(ctx, log, items, res)
		res.UsedFallback = true
	}

	res.FinishedAt = time.Now().UTC()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.Info("ingestion run finished",
		zap.Int("committed", res.Committed),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Bool("used_fallback", res.UsedFallback),
	)
	return res, nil
}

func (in *Ingestor) reconcileAll(ctx context.Context, log *zap.Logger, items []domain.RawItem, res *RunResult) {
	for i := range items {
		if ctx.Err() != nil {
			return
		}
		raw := &items[i]
		out, err := in.reconciler.Reconcile(ctx, raw)
		switch {
		case errors.Is(err, domain.ErrMalformedItem):
			log.Warn("skipping malformed item",
				zap.String("platform", raw.Platform), zap.String("name", raw.Name))
			res.Skipped++
			in.hooks.OnSkipped(raw.Platform)
		case err != nil:
			log.Error("reconcile item failed",
				zap.String("platform", raw.Platform), zap.String("name", raw.Name), zap.Error(err))
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", raw.Platform, raw.Name, err))
			in.hooks.OnSkipped(raw.Platform)
		default:
			res.Committed++
			res.ByPlatform[raw.Platform]++
			if out.Created {
				res.Created++
			}
			in.hooks.OnIngested(raw.Platform)
		}
	}
}
