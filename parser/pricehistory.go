package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/propfetch/zooplafetch/models"
)

const (
	changeTypeListing  = "listing_change"
	changeTypeLastSold = "last_sold"
)

// HistoryPayload renders the ListingHistory GraphQL request body for one
// listing id.
func HistoryPayload(listingID string) []byte {
	const query = "query ListingHistory($listingId: Int!) {\\n  listingDetails(id: $listingId) {\\n    ... on ListingData {\\n      priceHistory {\\n        ...History\\n        __typename\\n      }\\n      __typename\\n    }\\n    ... on ListingResultError {\\n      errorCode\\n      __typename\\n    }\\n    __typename\\n  }\\n}\\n\\nfragment History on PriceHistory {\\n  firstPublished {\\n    firstPublishedDate\\n    priceLabel\\n    __typename\\n  }\\n  lastSale {\\n    date\\n    newBuild\\n    price\\n    priceLabel\\n    recentlySold\\n    __typename\\n  }\\n  priceChanges {\\n    isMinorChange\\n    isPriceDrop\\n    isPriceIncrease\\n    percentageChangeLabel\\n    priceChangeDate\\n    priceChangeLabel\\n    priceLabel\\n    __typename\\n  }\\n  __typename\\n}\\n"
	payload := fmt.Sprintf(`{"operationName":"ListingHistory","variables":{"listingId":%s},"query":"%s"}`, listingID, query)
	return []byte(payload)
}

type priceHistoryResponse struct {
	Data struct {
		ListingDetails struct {
			PriceHistory *struct {
				FirstPublished *struct {
					FirstPublishedDate string `json:"firstPublishedDate"`
					PriceLabel         string `json:"priceLabel"`
				} `json:"firstPublished"`
				LastSale *struct {
					Date       string `json:"date"`
					PriceLabel string `json:"priceLabel"`
				} `json:"lastSale"`
				PriceChanges []struct {
					PriceChangeDate string `json:"priceChangeDate"`
					PriceLabel      string `json:"priceLabel"`
				} `json:"priceChanges"`
			} `json:"priceHistory"`
		} `json:"listingDetails"`
	} `json:"data"`
}

// ParsePriceHistory decodes a ListingHistory response into date-ordered
// entries plus the summarised stats row. A listing without history yields
// empty results, not an error.
func ParsePriceHistory(listingID string, body []byte) ([]models.PriceHistoryEntry, models.PriceHistorySummary, error) {
	var decoded priceHistoryResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, models.PriceHistorySummary{}, fmt.Errorf("decode price history: %w", err)
	}

	history := decoded.Data.ListingDetails.PriceHistory
	if history == nil {
		return nil, models.PriceHistorySummary{}, nil
	}

	var entries []models.PriceHistoryEntry
	var firstListed *time.Time

	appendEntry := func(rawDate, priceLabel, changeType string) {
		date, ok := parseHistoryDate(rawDate)
		if !ok {
			return
		}
		price, ok := firstNumber(priceLabel)
		if !ok {
			return
		}
		entries = append(entries, models.PriceHistoryEntry{
			ListingID:  listingID,
			Date:       date,
			Price:      price,
			ChangeType: changeType,
		})
	}

	if history.FirstPublished != nil {
		if date, ok := parseHistoryDate(history.FirstPublished.FirstPublishedDate); ok {
			firstListed = &date
		}
		appendEntry(history.FirstPublished.FirstPublishedDate, history.FirstPublished.PriceLabel, changeTypeListing)
	}
	if history.LastSale != nil {
		appendEntry(history.LastSale.Date, history.LastSale.PriceLabel, changeTypeLastSold)
	}
	for _, change := range history.PriceChanges {
		appendEntry(change.PriceChangeDate, change.PriceLabel, changeTypeListing)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})

	return entries, summarise(entries, firstListed), nil
}

// summarise reduces the listing-change sequence to the stats columns the
// output table carries per row.
func summarise(entries []models.PriceHistoryEntry, firstListed *time.Time) models.PriceHistorySummary {
	summary := models.PriceHistorySummary{FirstListed: firstListed}

	var prices []float64
	for _, entry := range entries {
		if entry.ChangeType == changeTypeListing {
			prices = append(prices, entry.Price)
		}
	}
	if len(prices) < 2 {
		return summary
	}

	var pctChanges []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		pctChanges = append(pctChanges, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(pctChanges) == 0 {
		return summary
	}

	summary.NumberOfPriceChanges = len(pctChanges)
	sum, max, min := 0.0, pctChanges[0], pctChanges[0]
	for _, pct := range pctChanges {
		sum += pct
		if pct > max {
			max = pct
		}
		if pct < min {
			min = pct
		}
	}
	avg := sum / float64(len(pctChanges))
	summary.AvgPctPerPriceChange = &avg
	summary.MaxPctPerPriceChange = &max
	summary.MinPctPerPriceChange = &min
	return summary
}

func parseHistoryDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if date, err := time.Parse(layout, raw); err == nil {
			return date, true
		}
	}
	return time.Time{}, false
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// firstNumber pulls the leading numeric value out of a price label such as
// "£450,000".
func firstNumber(label string) (float64, bool) {
	cleaned := strings.ReplaceAll(label, ",", "")
	match := numberPattern.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
