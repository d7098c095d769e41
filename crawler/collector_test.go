package crawler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/propfetch/zooplafetch/models"
)

func detailPageBody(id string, price float64, floorplans ...string) string {
	images := ""
	for i, filename := range floorplans {
		if i > 0 {
			images += ","
		}
		images += fmt.Sprintf(`{"filename":%q}`, filename)
	}
	return fmt.Sprintf(`<html><head>
<script type="application/json">
{"props":{"pageProps":{"listingDetails":{
  "listingId":%s,
  "adTargeting":{"price":%g,"numBeds":3,"displayAddress":"1 Test Street","outcode":"OX1","propertyType":"detached"},
  "floorPlan":{"image":[%s]}
}}}}
</script>
</head><body></body></html>`, id, price, images)
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestCollectorCompleteness(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/for-sale/details/1/",
		htmlResponder(detailPageBody("1", 450000, "plan1.png")))
	transport.RegisterResponder("GET", "http://example.test/for-sale/details/2/",
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder("GET", "http://example.test/for-sale/details/3/",
		htmlResponder("<html><body>no embedded data</body></html>"))

	metrics := NewMetrics()
	fetcher := NewFetcher(testConfig(), metrics)
	fetcher.SetTransport(transport)
	collector := NewCollector(fetcher, metrics)

	refs := []models.ListingRef{
		{ID: "1", URL: "http://example.test/for-sale/details/1/"},
		{ID: "2", URL: "http://example.test/for-sale/details/2/"},
		{ID: "3", URL: "http://example.test/for-sale/details/3/"},
	}
	results := collector.Collect(context.Background(), refs, 2)

	if len(results) != 3 {
		t.Fatalf("results = %d, want one entry per requested id", len(results))
	}

	good, ok := results["1"]
	if !ok || good.Err != nil || good.Record == nil {
		t.Fatalf("listing 1 should have a record, got %+v", good)
	}
	if good.Record.Price == nil || *good.Record.Price != 450000 {
		t.Fatalf("listing 1 price not mapped: %+v", good.Record.Price)
	}
	if len(good.Floorplans) != 1 {
		t.Fatalf("listing 1 floorplans = %d, want 1", len(good.Floorplans))
	}

	if failed := results["2"]; failed.Err == nil || failed.Record != nil {
		t.Fatalf("listing 2 should carry a fetch error, got %+v", failed)
	} else if failed.Err.Attempts != 1 {
		t.Fatalf("listing 2 attempts = %d, want 1 (a 404 is never retried)", failed.Err.Attempts)
	}
	if failed := results["3"]; failed.Err == nil || failed.Record != nil {
		t.Fatalf("listing 3 should carry a parse error, got %+v", failed)
	}
}

func TestCollectorFetchesEachIDOnce(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/for-sale/details/1/",
		htmlResponder(detailPageBody("1", 450000)))

	metrics := NewMetrics()
	fetcher := NewFetcher(testConfig(), metrics)
	fetcher.SetTransport(transport)
	collector := NewCollector(fetcher, metrics)

	// the same listing discovered on two result pages
	refs := []models.ListingRef{
		{ID: "1", URL: "http://example.test/for-sale/details/1/"},
		{ID: "1", URL: "http://example.test/for-sale/details/1/"},
	}
	results := collector.Collect(context.Background(), refs, 4)

	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if got := fetcher.RequestCount(); got != 1 {
		t.Fatalf("requests = %d, want a single fetch for the duplicated id", got)
	}
}

func TestCollectorFailureIsolation(t *testing.T) {
	transport := httpmock.NewMockTransport()
	for id := 1; id <= 5; id++ {
		url := fmt.Sprintf("http://example.test/for-sale/details/%d/", id)
		if id == 3 {
			transport.RegisterResponder("GET", url, httpmock.NewStringResponder(http.StatusInternalServerError, ""))
			continue
		}
		transport.RegisterResponder("GET", url, htmlResponder(detailPageBody(fmt.Sprintf("%d", id), float64(100000*id))))
	}

	metrics := NewMetrics()
	fetcher := NewFetcher(testConfig(), metrics)
	fetcher.SetTransport(transport)
	collector := NewCollector(fetcher, metrics)

	var refs []models.ListingRef
	for id := 1; id <= 5; id++ {
		refs = append(refs, models.ListingRef{
			ID:  fmt.Sprintf("%d", id),
			URL: fmt.Sprintf("http://example.test/for-sale/details/%d/", id),
		})
	}
	results := collector.Collect(context.Background(), refs, 3)

	succeeded := 0
	for id, result := range results {
		if id == "3" {
			if result.Err == nil {
				t.Fatalf("listing 3 should have failed")
			}
			continue
		}
		if result.Err != nil {
			t.Fatalf("listing %s failed unexpectedly: %v", id, result.Err)
		}
		succeeded++
	}
	if succeeded != 4 {
		t.Fatalf("succeeded = %d, want 4", succeeded)
	}
}
