package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/propfetch/zooplafetch/models"
	"github.com/propfetch/zooplafetch/parser"
	"github.com/puzpuzpuz/xsync/v3"
)

// DetailResult is the outcome for one listing id: exactly one of Record or
// Err is set. Floorplans accompany a successful record for the next stage.
type DetailResult struct {
	Ref        models.ListingRef
	Record     *models.ListingRecord
	Floorplans []models.FloorplanRef
	Err        *FetchError
}

// Collector maps listing refs to detail results with a fixed worker pool.
// Every requested id appears in the output exactly once; a failure for one
// id never disturbs the others.
type Collector struct {
	fetcher *Fetcher
	metrics *Metrics
	history *HistoryClient
}

// NewCollector builds a collector on top of the shared fetcher.
func NewCollector(fetcher *Fetcher, metrics *Metrics) *Collector {
	return &Collector{fetcher: fetcher, metrics: metrics}
}

// SetHistoryClient enables price-history enrichment of collected records.
func (c *Collector) SetHistoryClient(history *HistoryClient) {
	c.history = history
}

// Collect fetches every ref's detail page with `workers` goroutines pulling
// from a shared queue. Refs sharing an id collapse to one fetch.
func (c *Collector) Collect(ctx context.Context, refs []models.ListingRef, workers int) map[string]DetailResult {
	if workers <= 0 {
		workers = 1
	}

	pending := make(chan models.ListingRef, len(refs))
	queued := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := queued[ref.ID]; ok {
			continue
		}
		queued[ref.ID] = struct{}{}
		pending <- ref
	}
	close(pending)

	results := xsync.NewMapOf[string, DetailResult]()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range pending {
				results.Store(ref.ID, c.collectOne(ctx, ref))
			}
		}()
	}
	wg.Wait()

	out := make(map[string]DetailResult, len(queued))
	results.Range(func(id string, result DetailResult) bool {
		out[id] = result
		return true
	})
	return out
}

// collectOne fetches and parses a single listing. A panic while parsing is
// captured as that listing's FetchError so the rest of the pool keeps
// going.
func (c *Collector) collectOne(ctx context.Context, ref models.ListingRef) (result DetailResult) {
	result.Ref = ref
	defer func() {
		if r := recover(); r != nil {
			slog.Error("detail parse panicked",
				slog.String("listing_id", ref.ID),
				slog.Any("panic", r),
			)
			result.Record = nil
			result.Floorplans = nil
			result.Err = &FetchError{ListingID: ref.ID, Attempts: 1, LastCause: fmt.Errorf("panic: %v", r)}
			c.metrics.IncListing("panic")
		}
	}()

	resp, err := c.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		result.Err = &FetchError{ListingID: ref.ID, Attempts: fetchAttempts(err), LastCause: err}
		c.metrics.IncListing("fetch_error")
		return result
	}

	doc, err := parser.ParseDetailBody(resp.Body)
	if err != nil {
		result.Err = &FetchError{ListingID: ref.ID, Attempts: 1, LastCause: ErrMalformedBody{Err: err}}
		c.metrics.IncListing("parse_error")
		return result
	}

	record := doc.Record(ref.URL)
	result.Record = record
	result.Floorplans = doc.FloorplanRefs()

	if c.history != nil {
		if _, summary, err := c.history.ListingHistory(ctx, ref.ID); err != nil {
			// History is an enrichment; a listing without it still counts.
			slog.Warn("price history unavailable",
				slog.String("listing_id", ref.ID),
				slog.Any("error", err),
			)
		} else {
			record.PriceHistory = summary
		}
	}

	c.metrics.IncListing("collected")
	return result
}
