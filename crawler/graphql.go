package crawler

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/propfetch/zooplafetch/models"
	"github.com/propfetch/zooplafetch/parser"
)

// DefaultGraphQLURL is the source's GraphQL endpoint for listing history.
const DefaultGraphQLURL = "https://api-graphql-lambda.prod.zoopla.co.uk/graphql"

var (
	jsChunkPattern = regexp.MustCompile(`https://r\.zoocdn\.com/_next/static/chunks/[^\s"]*\.js`)
	apiKeyPattern  = regexp.MustCompile(`"X-Api-Key":"(\w+)"`)
)

// DiscoverAPIKey mines the GraphQL API key out of the JS chunk files linked
// from any live listing page. The key rotates with frontend deploys, so it
// is discovered once per session rather than configured.
func DiscoverAPIKey(ctx context.Context, fetcher *Fetcher, anyListingURL string) (string, error) {
	page, err := fetcher.Fetch(ctx, anyListingURL)
	if err != nil {
		return "", fmt.Errorf("fetch listing page: %w", err)
	}

	chunkURLs := jsChunkPattern.FindAllString(string(page.Body), -1)
	if len(chunkURLs) == 0 {
		return "", ErrMalformedBody{Err: fmt.Errorf("no script chunks on listing page")}
	}

	for _, chunkURL := range chunkURLs {
		chunk, err := fetcher.Fetch(ctx, chunkURL)
		if err != nil {
			continue
		}
		if m := apiKeyPattern.FindSubmatch(chunk.Body); m != nil {
			return string(m[1]), nil
		}
	}
	return "", fmt.Errorf("no API key found in %d script chunk(s)", len(chunkURLs))
}

// HistoryClient fetches per-listing price history over GraphQL.
type HistoryClient struct {
	fetcher *Fetcher
	apiURL  string
	apiKey  string
}

// NewHistoryClient builds a client for the given endpoint and key. An empty
// apiURL falls back to the production endpoint.
func NewHistoryClient(fetcher *Fetcher, apiURL, apiKey string) *HistoryClient {
	if apiURL == "" {
		apiURL = DefaultGraphQLURL
	}
	return &HistoryClient{fetcher: fetcher, apiURL: apiURL, apiKey: apiKey}
}

// ListingHistory fetches and decodes one listing's price history.
func (h *HistoryClient) ListingHistory(ctx context.Context, listingID string) ([]models.PriceHistoryEntry, models.PriceHistorySummary, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Api-Key", h.apiKey)

	resp, err := h.fetcher.Post(ctx, h.apiURL, header, parser.HistoryPayload(listingID))
	if err != nil {
		return nil, models.PriceHistorySummary{}, fmt.Errorf("price history %s: %w", listingID, err)
	}

	entries, summary, err := parser.ParsePriceHistory(listingID, resp.Body)
	if err != nil {
		return nil, models.PriceHistorySummary{}, ErrMalformedBody{Err: err}
	}
	return entries, summary, nil
}
