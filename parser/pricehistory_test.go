package parser

import (
	"math"
	"strings"
	"testing"
	"time"
)

const historyFixture = `{"data":{"listingDetails":{"priceHistory":{
  "firstPublished":{"firstPublishedDate":"2023-03-01","priceLabel":"£500,000"},
  "lastSale":{"date":"2019-06-14","priceLabel":"£380,000"},
  "priceChanges":[
    {"priceChangeDate":"2023-06-10","priceLabel":"£475,000"},
    {"priceChangeDate":"2023-09-02","priceLabel":"£450,000"}
  ]
}}}}`

func TestHistoryPayload(t *testing.T) {
	payload := string(HistoryPayload("60212930"))
	if !strings.Contains(payload, `"operationName":"ListingHistory"`) {
		t.Fatalf("payload missing operation name: %s", payload)
	}
	if !strings.Contains(payload, `"listingId":60212930`) {
		t.Fatalf("payload missing listing id variable: %s", payload)
	}
}

func TestParsePriceHistory(t *testing.T) {
	entries, summary, err := ParsePriceHistory("60212930", []byte(historyFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Date.Before(entries[i-1].Date) {
			t.Fatalf("entries not date ordered: %v before %v", entries[i].Date, entries[i-1].Date)
		}
	}
	if entries[0].ChangeType != "last_sold" || entries[0].Price != 380000 {
		t.Fatalf("oldest entry = %+v, want the 2019 sale", entries[0])
	}

	if summary.FirstListed == nil || !summary.FirstListed.Equal(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first listed = %v, want 2023-03-01", summary.FirstListed)
	}
	if summary.NumberOfPriceChanges != 2 {
		t.Fatalf("price changes = %d, want 2", summary.NumberOfPriceChanges)
	}

	// 500k -> 475k -> 450k
	wantFirst := (475000.0 - 500000.0) / 500000.0
	wantSecond := (450000.0 - 475000.0) / 475000.0
	if summary.MinPctPerPriceChange == nil || math.Abs(*summary.MinPctPerPriceChange-wantSecond) > 1e-9 {
		t.Fatalf("min pct = %v, want %v", summary.MinPctPerPriceChange, wantSecond)
	}
	if summary.MaxPctPerPriceChange == nil || math.Abs(*summary.MaxPctPerPriceChange-wantFirst) > 1e-9 {
		t.Fatalf("max pct = %v, want %v", summary.MaxPctPerPriceChange, wantFirst)
	}
	if summary.AvgPctPerPriceChange == nil || math.Abs(*summary.AvgPctPerPriceChange-(wantFirst+wantSecond)/2) > 1e-9 {
		t.Fatalf("avg pct = %v", summary.AvgPctPerPriceChange)
	}
}

func TestParsePriceHistoryEmpty(t *testing.T) {
	entries, summary, err := ParsePriceHistory("1", []byte(`{"data":{"listingDetails":{}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want none", len(entries))
	}
	if summary.FirstListed != nil || summary.NumberOfPriceChanges != 0 {
		t.Fatalf("summary should be empty, got %+v", summary)
	}
}

func TestParsePriceHistorySingleListingPrice(t *testing.T) {
	body := `{"data":{"listingDetails":{"priceHistory":{
	  "firstPublished":{"firstPublishedDate":"2023-03-01","priceLabel":"£500,000"}
	}}}}`
	_, summary, err := ParsePriceHistory("1", []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if summary.NumberOfPriceChanges != 0 || summary.AvgPctPerPriceChange != nil {
		t.Fatalf("one price cannot produce change stats, got %+v", summary)
	}
}

func TestFirstNumber(t *testing.T) {
	tests := []struct {
		label  string
		want   float64
		wantOK bool
	}{
		{label: "£450,000", want: 450000, wantOK: true},
		{label: "From £1,200 pcm", want: 1200, wantOK: true},
		{label: "POA", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := firstNumber(tt.label)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("firstNumber(%q) = %v/%v, want %v/%v", tt.label, got, ok, tt.want, tt.wantOK)
		}
	}
}
