package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/propfetch/zooplafetch/models"
)

const canonicalPath = "/for-sale/property/oxford/"

func testQuery() models.Query {
	return models.DefaultQuery("oxford")
}

// registerSearchRedirect mimics the search endpoint's redirect to the
// canonical result URL.
func registerSearchRedirect(transport *httpmock.MockTransport) {
	transport.RegisterResponder("GET", `=~^http://example\.test/search/`, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusFound, "")
		resp.Header.Set("Location", canonicalPath)
		return resp, nil
	})
}

func registerResultPages(transport *httpmock.MockTransport, pages map[int][]int) {
	transport.RegisterResponder("GET", `=~^http://example\.test/for-sale/property/oxford/`, func(req *http.Request) (*http.Response, error) {
		page, _ := strconv.Atoi(req.URL.Query().Get("pn"))
		ids, ok := pages[page]
		if !ok {
			ids = nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, buildResultPage(ids))
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})
}

func buildResultPage(ids []int) string {
	var builder strings.Builder
	builder.WriteString("<html><body><div class='results'>")
	for _, id := range ids {
		fmt.Fprintf(&builder,
			"<a data-testid=\"listing-details-link\" href=\"/for-sale/details/%d/?search_identifier=abc%d\">Listing %d</a>",
			id, id, id)
	}
	builder.WriteString("</div></body></html>")
	return builder.String()
}

func newTestPaginator(t *testing.T, transport *httpmock.MockTransport) *Paginator {
	t.Helper()
	cfg := testConfig()
	cfg.MaxPages = 10
	metrics := NewMetrics()
	fetcher := NewFetcher(cfg, metrics)
	fetcher.SetTransport(transport)

	paginator, err := NewPaginator(cfg, fetcher, metrics)
	if err != nil {
		t.Fatalf("new paginator: %v", err)
	}
	paginator.SetTransport(transport)
	return paginator
}

func idRange(from, to int) []int {
	var ids []int
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func TestPaginatorDeduplicatesAcrossPages(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerSearchRedirect(transport)
	// pages overlap: page 2 repeats the last five ids of page 1, page 4
	// repeats page 1 entirely and ends the walk
	registerResultPages(transport, map[int][]int{
		1: idRange(1, 25),
		2: idRange(21, 45),
		3: idRange(46, 55),
		4: idRange(1, 25),
	})

	paginator := newTestPaginator(t, transport)
	refs, pages, err := paginator.Run(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(refs) != 55 {
		t.Fatalf("refs = %d, want 55 unique ids", len(refs))
	}
	if pages != 4 {
		t.Fatalf("pages = %d, want 4 (the all-duplicates page ends the walk)", pages)
	}

	seen := make(map[string]struct{})
	for _, ref := range refs {
		if _, dup := seen[ref.ID]; dup {
			t.Fatalf("duplicate id %s in result set", ref.ID)
		}
		seen[ref.ID] = struct{}{}
		if strings.Contains(ref.URL, "search_identifier") {
			t.Fatalf("tracking parameter survived in %s", ref.URL)
		}
	}
}

func TestPaginatorIsIdempotent(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerSearchRedirect(transport)
	registerResultPages(transport, map[int][]int{
		1: idRange(1, 10),
		2: idRange(1, 10),
	})

	paginator := newTestPaginator(t, transport)

	first, _, err := paginator.Run(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, _, err := paginator.Run(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("runs differ: %d vs %d refs", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("ref %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPaginatorRetriesFailedPageInPlace(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerSearchRedirect(transport)
	// pages 2 and 3 each fail once with a 500 before serving their listings
	pageBodies := map[int][]int{
		1: idRange(1, 25),
		2: idRange(26, 50),
		3: idRange(51, 60),
		4: idRange(51, 60),
	}
	failed := make(map[int]bool)
	transport.RegisterResponder("GET", `=~^http://example\.test/for-sale/property/oxford/`, func(req *http.Request) (*http.Response, error) {
		page, _ := strconv.Atoi(req.URL.Query().Get("pn"))
		if (page == 2 || page == 3) && !failed[page] {
			failed[page] = true
			return httpmock.NewStringResponse(http.StatusInternalServerError, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, buildResultPage(pageBodies[page]))
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	paginator := newTestPaginator(t, transport)
	refs, pages, err := paginator.Run(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(refs) != 60 {
		t.Fatalf("refs = %d, want 60; a transient page failure must not drop that page's listings", len(refs))
	}
	if pages != 4 {
		t.Fatalf("pages = %d, want 4 successful pages", pages)
	}
	if !failed[2] || !failed[3] {
		t.Fatalf("responder never exercised the transient failures: %+v", failed)
	}
}

func TestPaginatorAbortsAfterConsecutiveFailures(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerSearchRedirect(transport)
	transport.RegisterResponder("GET", `=~^http://example\.test/for-sale/property/oxford/`, func(req *http.Request) (*http.Response, error) {
		page, _ := strconv.Atoi(req.URL.Query().Get("pn"))
		if page <= 2 {
			resp := httpmock.NewStringResponse(http.StatusOK, buildResultPage(idRange((page-1)*25+1, page*25)))
			resp.Header.Set("Content-Type", "text/html")
			return resp, nil
		}
		return httpmock.NewStringResponse(http.StatusInternalServerError, ""), nil
	})

	paginator := newTestPaginator(t, transport)
	refs, pages, err := paginator.Run(context.Background(), testQuery())

	var pgErr *PaginationError
	if !errors.As(err, &pgErr) {
		t.Fatalf("error = %v, want *PaginationError", err)
	}
	if pgErr.Collected != 50 {
		t.Fatalf("collected = %d, want 50", pgErr.Collected)
	}
	if len(refs) != 50 {
		t.Fatalf("refs = %d, want the partial set of 50", len(refs))
	}
	if pages != 2 {
		t.Fatalf("pages = %d, want 2 successful pages", pages)
	}
}

func TestPaginatorFailsWhenSearchDoesNotRedirect(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `=~^http://example\.test/search/`,
		httpmock.NewStringResponder(http.StatusOK, "<html></html>"))

	paginator := newTestPaginator(t, transport)
	_, _, err := paginator.Run(context.Background(), testQuery())

	var pgErr *PaginationError
	if !errors.As(err, &pgErr) {
		t.Fatalf("error = %v, want *PaginationError", err)
	}
}

func TestListingIDFromURL(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{url: "http://example.test/for-sale/details/60212930/", wantID: "60212930", wantOK: true},
		{url: "http://example.test/for-sale/details/60212930", wantID: "60212930", wantOK: true},
		{url: "http://example.test/for-sale/details/", wantOK: false},
		{url: "http://example.test/about/", wantOK: false},
	}

	for _, tt := range tests {
		id, ok := listingIDFromURL(tt.url)
		if ok != tt.wantOK || id != tt.wantID {
			t.Fatalf("listingIDFromURL(%q) = %q/%v, want %q/%v", tt.url, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
