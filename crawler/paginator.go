package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/propfetch/zooplafetch/config"
	"github.com/propfetch/zooplafetch/models"
)

// maxConsecutivePageFailures is how many page fetches may fail in a row
// before the walk aborts with a PaginationError.
const maxConsecutivePageFailures = 3

// Paginator walks the search result pages of one query and produces a
// deduplicated set of listing references. Pages are requested strictly in
// sequence: page N+1 only goes out after page N's ids are merged.
type Paginator struct {
	cfg       *config.Config
	fetcher   *Fetcher
	metrics   *Metrics
	collector *colly.Collector

	pageRefs []models.ListingRef
	pageErr  error
}

// NewPaginator builds a paginator with a synchronous collector.
func NewPaginator(cfg *config.Config, fetcher *Fetcher, metrics *Metrics) (*Paginator, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	p := &Paginator{
		cfg:       cfg,
		fetcher:   fetcher,
		metrics:   metrics,
		collector: collector,
	}

	collector.OnRequest(func(r *colly.Request) {
		p.metrics.IncRequest("search")
	})

	collector.OnHTML("a[data-testid='listing-details-link']", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		abs := e.Request.AbsoluteURL(stripSearchIdentifier(href))
		id, ok := listingIDFromURL(abs)
		if !ok {
			return
		}
		p.pageRefs = append(p.pageRefs, models.ListingRef{ID: id, URL: abs})
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		p.pageErr = err
		p.metrics.IncError(errorTypeLabel(classifyPageError(err, status)))
	})

	return p, nil
}

// SetTransport swaps the collector transport. Used by tests.
func (p *Paginator) SetTransport(rt http.RoundTripper) {
	p.collector.WithTransport(rt)
}

// Run resolves the query's canonical result URL and walks pages until a
// page yields no previously-unseen ids or the page cap is reached. A failed
// page is retried in place so its listings are never silently skipped;
// after three consecutive failures the walk aborts and the ids gathered so
// far are returned alongside a PaginationError.
func (p *Paginator) Run(ctx context.Context, q models.Query) ([]models.ListingRef, int, error) {
	queryURL, err := p.resolveQueryURL(ctx, q)
	if err != nil {
		return nil, 0, &PaginationError{Page: 0, Collected: 0, Cause: err}
	}

	seen := make(map[string]struct{})
	var refs []models.ListingRef
	pages := 0
	consecutiveFailures := 0

	for page := 1; page <= p.cfg.MaxPages; {
		if ctx.Err() != nil {
			return refs, pages, &PaginationError{Page: page, Collected: len(refs), Cause: ctx.Err()}
		}

		pageRefs, err := p.visitPage(pageURL(queryURL, page))
		if err != nil {
			consecutiveFailures++
			slog.Warn("search page fetch failed",
				slog.Int("page", page),
				slog.Int("consecutive_failures", consecutiveFailures),
				slog.Any("error", err),
			)
			if consecutiveFailures >= maxConsecutivePageFailures {
				return refs, pages, &PaginationError{Page: page, Collected: len(refs), Cause: err}
			}
			// same page again; advancing here would drop its listings
			continue
		}
		consecutiveFailures = 0
		pages++

		newIDs := 0
		for _, ref := range pageRefs {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			refs = append(refs, ref)
			newIDs++
		}

		slog.Debug("search page merged",
			slog.Int("page", page),
			slog.Int("page_ids", len(pageRefs)),
			slog.Int("new_ids", newIDs),
			slog.Int("total_ids", len(refs)),
		)

		if newIDs == 0 {
			break
		}
		page++
	}

	return refs, pages, nil
}

// resolveQueryURL performs the redirect dance the search endpoint requires:
// the raw query redirects to a canonical result URL, which then accepts
// page_size and pn parameters.
func (p *Paginator) resolveQueryURL(ctx context.Context, q models.Query) (string, error) {
	searchURL := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/search/?" + q.Params().Encode()
	location, err := p.fetcher.Resolve(ctx, searchURL)
	if err != nil {
		return "", fmt.Errorf("resolve search url: %w", err)
	}

	resolved, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location: %w", err)
	}
	base, _ := url.Parse(p.cfg.BaseURL)
	abs := base.ResolveReference(resolved)

	values := abs.Query()
	values.Set("page_size", strconv.Itoa(p.cfg.PageSize))
	abs.RawQuery = values.Encode()
	return abs.String(), nil
}

func (p *Paginator) visitPage(pageURL string) ([]models.ListingRef, error) {
	p.pageRefs = nil
	p.pageErr = nil

	if err := p.collector.Visit(pageURL); err != nil {
		return nil, err
	}
	p.collector.Wait()

	if p.pageErr != nil {
		return nil, p.pageErr
	}
	return p.pageRefs, nil
}

func pageURL(queryURL string, page int) string {
	parsed, err := url.Parse(queryURL)
	if err != nil {
		return queryURL
	}
	values := parsed.Query()
	values.Set("pn", strconv.Itoa(page))
	parsed.RawQuery = values.Encode()
	return parsed.String()
}

// stripSearchIdentifier removes the per-impression tracking parameter so the
// same listing links identically across pages.
func stripSearchIdentifier(href string) string {
	if idx := strings.IndexByte(href, '?'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// listingIDFromURL pulls the numeric listing id out of a details URL such
// as /for-sale/details/60212930/.
func listingIDFromURL(u string) (string, bool) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" {
			continue
		}
		if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
			return segment, true
		}
	}
	return "", false
}

func classifyPageError(err error, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited{Err: err}
	case status >= 500:
		return ErrServer{Err: err}
	case status >= 400:
		return ErrClient{Err: err}
	default:
		return classifyTransportError(err)
	}
}
