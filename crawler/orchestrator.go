package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propfetch/zooplafetch/config"
	"github.com/propfetch/zooplafetch/models"
)

// AreaEstimator is the floorplan stage seen from the orchestrator: a
// listing's image refs in, one estimate plus per-image errors out.
type AreaEstimator interface {
	EstimateArea(ctx context.Context, refs []models.FloorplanRef) (models.AreaEstimate, []error)
}

// Orchestrator drives a query end to end: paginate, collect details in
// parallel, then measure floorplans under the same worker budget, and
// assemble one report with a row or a recorded failure for every
// discovered listing.
type Orchestrator struct {
	cfg       *config.Config
	metrics   *Metrics
	fetcher   *Fetcher
	paginator *Paginator
	collector *Collector
	estimator AreaEstimator

	historyURL     string
	collectHistory bool
}

// NewOrchestrator wires the crawl stages together. estimator may be nil,
// in which case every listing reports an unknown area.
func NewOrchestrator(cfg *config.Config, metrics *Metrics, fetcher *Fetcher, paginator *Paginator, collector *Collector, estimator AreaEstimator) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		metrics:   metrics,
		fetcher:   fetcher,
		paginator: paginator,
		collector: collector,
		estimator: estimator,
	}
}

// EnablePriceHistory turns on the GraphQL history enrichment. An empty URL
// uses the production endpoint.
func (o *Orchestrator) EnablePriceHistory(apiURL string) {
	o.historyURL = apiURL
	o.collectHistory = true
}

// ExtractAllPropertyDetails runs the full extraction for one query. The
// returned report carries one entry per discovered listing id: a complete
// row or a recorded failure, never a partial row. Cancellation via ctx is
// best-effort: in-flight requests finish or time out.
func (o *Orchestrator) ExtractAllPropertyDetails(ctx context.Context, q models.Query, threads int) (*models.CrawlReport, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	if threads <= 0 {
		threads = o.cfg.Parallelism
	}

	report := &models.CrawlReport{
		SessionID: uuid.NewString(),
		Query:     q,
		StartTime: time.Now(),
	}

	refs, pages, err := o.paginator.Run(ctx, q)
	report.PageCount = pages
	if err != nil {
		var pgErr *PaginationError
		if !errors.As(err, &pgErr) {
			return report, err
		}
		// Partial walk: keep what was collected and say so.
		report.PartialPagination = true
		slog.Warn("pagination incomplete, continuing with partial id set",
			slog.Int("collected", len(refs)),
			slog.Any("error", err),
		)
	}
	slog.Info("pagination complete",
		slog.String("session", report.SessionID),
		slog.Int("listings", len(refs)),
		slog.Int("pages", pages),
	)

	if o.collectHistory && len(refs) > 0 {
		if key, err := DiscoverAPIKey(ctx, o.fetcher, refs[0].URL); err != nil {
			slog.Warn("api key discovery failed, skipping price history", slog.Any("error", err))
		} else {
			o.collector.SetHistoryClient(NewHistoryClient(o.fetcher, o.historyURL, key))
		}
	}

	results := o.collector.Collect(ctx, refs, threads)
	o.measureFloorplans(ctx, results, threads)

	for _, ref := range refs {
		result, ok := results[ref.ID]
		if !ok {
			// Collect guarantees completeness; treat a hole as a failure
			// rather than dropping the listing silently.
			report.Failures = append(report.Failures, models.ListingFailure{
				ListingID: ref.ID,
				URL:       ref.URL,
				Reason:    "no result recorded",
			})
			continue
		}
		if result.Err != nil {
			report.Failures = append(report.Failures, models.ListingFailure{
				ListingID: ref.ID,
				URL:       ref.URL,
				Reason:    result.Err.Error(),
			})
			continue
		}
		report.Rows = append(report.Rows, result.Record)
	}

	report.EndTime = time.Now()
	report.RequestCount = o.fetcher.RequestCount()
	report.RetryCount = o.fetcher.RetryCount()
	report.ErrorCount = o.fetcher.ErrorCount()
	return report, nil
}

// measureFloorplans runs the floorplan stage for every collected record.
// Different listings overlap freely; one listing's extraction starts only
// after its own detail fetch succeeded.
func (o *Orchestrator) measureFloorplans(ctx context.Context, results map[string]DetailResult, threads int) {
	if o.estimator == nil {
		return
	}

	pending := make(chan DetailResult, len(results))
	for _, result := range results {
		if result.Record != nil {
			pending <- result
		}
	}
	close(pending)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for result := range pending {
				o.measureOne(ctx, result)
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) measureOne(ctx context.Context, result DetailResult) {
	estimate, ocrErrs := o.estimator.EstimateArea(ctx, result.Floorplans)
	for _, err := range ocrErrs {
		o.metrics.IncOCR("error")
		slog.Warn("floorplan image unreadable",
			slog.String("listing_id", result.Ref.ID),
			slog.Any("error", err),
		)
	}

	record := result.Record
	record.AreaConfidence = estimate.Confidence
	if !estimate.Known() {
		o.metrics.IncOCR("unknown")
		return
	}
	o.metrics.IncOCR("measured")

	sqft := estimate.SqFt
	record.TotalSqFootage = &sqft
	if record.Price != nil && sqft > 0 {
		perSqFt := *record.Price / sqft
		record.PoundsPerSqFoot = &perSqFt
	}
}

// ExtractAllPriceHistories walks the same query but produces the detailed
// price-change table instead of listing rows.
func (o *Orchestrator) ExtractAllPriceHistories(ctx context.Context, q models.Query, threads int) ([]models.PriceHistoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	if threads <= 0 {
		threads = o.cfg.Parallelism
	}

	refs, _, err := o.paginator.Run(ctx, q)
	if err != nil {
		var pgErr *PaginationError
		if !errors.As(err, &pgErr) {
			return nil, err
		}
		slog.Warn("pagination incomplete, continuing with partial id set", slog.Any("error", err))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	key, err := DiscoverAPIKey(ctx, o.fetcher, refs[0].URL)
	if err != nil {
		return nil, fmt.Errorf("discover api key: %w", err)
	}
	history := NewHistoryClient(o.fetcher, o.historyURL, key)

	pending := make(chan models.ListingRef, len(refs))
	for _, ref := range refs {
		pending <- ref
	}
	close(pending)

	var mu sync.Mutex
	var all []models.PriceHistoryEntry
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range pending {
				entries, _, err := history.ListingHistory(ctx, ref.ID)
				if err != nil {
					slog.Warn("price history unavailable",
						slog.String("listing_id", ref.ID),
						slog.Any("error", err),
					)
					continue
				}
				mu.Lock()
				all = append(all, entries...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return all, nil
}
