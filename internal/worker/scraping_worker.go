package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/ingest"
)

// DefaultLocations is the rotation used when none is configured.
var DefaultLocations = []string{"Mumbai", "Delhi", "Bangalore", "Chennai", "Pune"}

// Ingester runs one ingestion pass. *ingest.Ingestor implements it.
type Ingester interface {
	Run(ctx context.Context, location string) (*ingest.RunResult, error)
}

var _ Ingester = (*ingest.Ingestor)(nil)

// ScrapingStats counts scraping runs since startup.
type ScrapingStats struct {
	TotalRuns         int `json:"totalRuns"`
	SuccessfulRuns    int `json:"successfulRuns"`
	FailedRuns        int `json:"failedRuns"`
	TotalItemsScraped int `json:"totalItemsScraped"`
}

// LastScrape describes the most recent finished run.
type LastScrape struct {
	Timestamp time.Time         `json:"timestamp"`
	Location  string            `json:"location"`
	Items     int               `json:"items"`
	Results   *ingest.RunResult `json:"results,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ScrapingStatus is the snapshot served on the status surface.
type ScrapingStatus struct {
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"isRunning"`
	LastRun      *LastScrape   `json:"lastRun"`
	NextLocation string        `json:"nextLocation"`
	NextRun      *time.Time    `json:"nextRun,omitempty"`
	Locations    []string      `json:"locations"`
	Stats        ScrapingStats `json:"stats"`
}

// ScrapingWorker runs ingestion on a cron schedule, one location per run,
// rotating through the configured locations.
type ScrapingWorker struct {
	ingester  Ingester
	enabled   bool
	spec      string
	locations []string
	logger    *zap.Logger
	now       func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	next    int
	stats   ScrapingStats
	lastRun *LastScrape
	nextRun time.Time
}

func NewScrapingWorker(ingester Ingester, enabled bool, spec string, locations []string, logger *zap.Logger) *ScrapingWorker {
	if spec == "" {
		spec = "0 */4 * * *"
	}
	if len(locations) == 0 {
		locations = DefaultLocations
	}
	return &ScrapingWorker{
		ingester: ingester, enabled: enabled, spec: spec,
		locations: slices.Clone(locations), logger: logger, now: time.Now,
	}
}

// Run blocks until ctx is cancelled. When scraping is disabled it only
// waits for cancellation.
func (sw *ScrapingWorker) Run(ctx context.Context) error {
	if !sw.enabled {
		sw.logger.Info("scraping disabled")
		<-ctx.Done()
		return nil
	}
	return runCron(ctx, sw.spec, sw.logger, "scraping worker", func() {
		if _, err := sw.runCycle(ctx, ""); err != nil && !errors.Is(err, domain.ErrRunInProgress) {
			sw.logger.Error("scheduled scraping run failed", zap.Error(err))
		}
	}, func(t time.Time) {
		sw.mu.Lock()
		sw.nextRun = t
		sw.mu.Unlock()
	})
}

// TriggerRun starts a run immediately. A configured location moves the
// rotation to it first. Any other non-empty location is scraped directly and
// leaves the rotation untouched. The result names the location scraped.
func (sw *ScrapingWorker) TriggerRun(ctx context.Context, location string) (*ingest.RunResult, error) {
	if !sw.enabled {
		return nil, domain.ErrScrapingDisabled
	}
	return sw.runCycle(ctx, location)
}

func (sw *ScrapingWorker) runCycle(ctx context.Context, requested string) (*ingest.RunResult, error) {
	if !sw.state.CompareAndSwap(stateIdle, stateRunning) {
		sw.logger.Warn("scraping already in progress, skipping")
		return nil, domain.ErrRunInProgress
	}
	defer sw.state.Store(stateIdle)

	sw.mu.Lock()
	location := requested
	if i := slices.Index(sw.locations, requested); requested == "" || i >= 0 {
		if i >= 0 {
			sw.next = i
		}
		location = sw.locations[sw.next]
		sw.next = (sw.next + 1) % len(sw.locations)
	}
	sw.stats.TotalRuns++
	sw.mu.Unlock()

	log := sw.logger.With(zap.String("location", location))
	log.Info("scraping cycle started")

	res, err := sw.ingester.Run(ctx, location)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	last := &LastScrape{Timestamp: sw.now().UTC(), Location: location, Results: res}
	if err != nil {
		sw.stats.FailedRuns++
		last.Error = err.Error()
		sw.lastRun = last
		log.Error("scraping cycle failed", zap.Error(err))
		return res, err
	}
	sw.stats.SuccessfulRuns++
	sw.stats.TotalItemsScraped += res.Committed
	last.Items = res.Committed
	sw.lastRun = last
	log.Info("scraping cycle completed", zap.Int("items", res.Committed), zap.Int("errors", len(res.Errors)))
	return res, nil
}

// Status returns a snapshot of the runner. It does not advance the rotation.
func (sw *ScrapingWorker) Status() ScrapingStatus {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	st := ScrapingStatus{
		Enabled:      sw.enabled,
		Running:      sw.state.Load() == stateRunning,
		NextLocation: sw.locations[sw.next],
		Locations:    slices.Clone(sw.locations),
		Stats:        sw.stats,
	}
	if sw.lastRun != nil {
		last := *sw.lastRun
		st.LastRun = &last
	}
	if !sw.nextRun.IsZero() {
		next := sw.nextRun
		st.NextRun = &next
	}
	return st
}
