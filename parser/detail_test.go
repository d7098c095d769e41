package parser

import (
	"strings"
	"testing"

	"github.com/propfetch/zooplafetch/models"
)

const detailFixture = `<html><head>
<script type="application/json">{"unrelated":true}</script>
<script type="application/json">
{"props":{"pageProps":{"listingDetails":{
  "listingId":60212930,
  "adTargeting":{
    "acorn":12,
    "areaName":"Headington",
    "bedsMin":"3",
    "chainFree":false,
    "countryCode":"gb",
    "displayAddress":"12 Example Road, Oxford OX3",
    "hasFloorplan":true,
    "numBaths":2,
    "numBeds":3,
    "outcode":"OX3",
    "price":450000,
    "priceQualifier":"guide_price",
    "propertyType":"semi_detached",
    "section":"for-sale",
    "tenure":"freehold"
  },
  "detailedDescription":"A well presented family home.",
  "location":{"coordinates":{"latitude":51.7612,"longitude":-1.2206}},
  "pointsOfInterest":[
    {"title":"Oxford","type":"national_rail_station","distanceMiles":2.4},
    {"title":"Oxford Parkway","type":"national_rail_station","distanceMiles":3.9},
    {"title":"Headington School","type":"secondary_school","distanceMiles":0.6},
    {"title":"No Distance","type":"primary_school"}
  ],
  "floorPlan":{"image":[{"filename":"abc123.png"},{"filename":""},{"filename":"def456.jpg"}]}
}}}}
</script>
</head><body></body></html>`

func TestParseDetailBody(t *testing.T) {
	doc, err := ParseDetailBody([]byte(detailFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.ListingID() != "60212930" {
		t.Fatalf("listing id = %q, want 60212930", doc.ListingID())
	}
}

func TestParseDetailBodyWithoutEmbeddedData(t *testing.T) {
	_, err := ParseDetailBody([]byte("<html><body><p>nothing here</p></body></html>"))
	if err == nil {
		t.Fatalf("expected an error for a page without listing data")
	}
}

func TestRecordMapsAdTargeting(t *testing.T) {
	doc, err := ParseDetailBody([]byte(detailFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	record := doc.Record("http://example.test/for-sale/details/60212930/")
	if record.ListingID != "60212930" {
		t.Fatalf("listing id = %q", record.ListingID)
	}
	if record.Price == nil || *record.Price != 450000 {
		t.Fatalf("price = %v, want 450000", record.Price)
	}
	if record.NumBeds == nil || *record.NumBeds != 3 {
		t.Fatalf("numBeds = %v, want 3", record.NumBeds)
	}
	// numeric-as-string attributes still map
	if record.BedsMin == nil || *record.BedsMin != 3 {
		t.Fatalf("bedsMin = %v, want 3 parsed from string", record.BedsMin)
	}
	if record.ChainFree == nil || *record.ChainFree != false {
		t.Fatalf("chainFree = %v, want false", record.ChainFree)
	}
	if record.DisplayAddress == nil || *record.DisplayAddress != "12 Example Road, Oxford OX3" {
		t.Fatalf("displayAddress = %v", record.DisplayAddress)
	}
	if record.Tenure == nil || *record.Tenure != "freehold" {
		t.Fatalf("tenure = %v", record.Tenure)
	}
	// attributes the page never sent stay nil, not zero
	if record.PriceMax != nil || record.FurnishedState != nil {
		t.Fatalf("absent attributes must stay nil")
	}
	if record.Latitude == nil || *record.Latitude != 51.7612 {
		t.Fatalf("latitude = %v", record.Latitude)
	}
	if record.DetailedDescription == nil || !strings.Contains(*record.DetailedDescription, "family home") {
		t.Fatalf("detailedDescription = %v", record.DetailedDescription)
	}
	if record.AreaConfidence != models.ConfidenceNone {
		t.Fatalf("area confidence = %s, want none before measurement", record.AreaConfidence)
	}
	if record.TotalSqFootage != nil {
		t.Fatalf("total sq footage must start unknown")
	}
}

func TestRecordNearestPOI(t *testing.T) {
	doc, err := ParseDetailBody([]byte(detailFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	record := doc.Record("http://example.test/for-sale/details/60212930/")

	rail := record.NearestNationalRailStation
	if rail.Title == nil || *rail.Title != "Oxford" {
		t.Fatalf("nearest rail = %v, want the closer of the two stations", rail.Title)
	}
	if rail.DistanceMiles == nil || *rail.DistanceMiles != 2.4 {
		t.Fatalf("rail distance = %v, want 2.4", rail.DistanceMiles)
	}

	// a POI without a distance cannot be ranked
	if record.NearestPrimarySchool.Title != nil {
		t.Fatalf("primary school without distance should map to an empty POI")
	}
	if record.NearestUndergroundStation.Title != nil {
		t.Fatalf("no underground stations in fixture, want empty POI")
	}
}

func TestFloorplanRefs(t *testing.T) {
	doc, err := ParseDetailBody([]byte(detailFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	refs := doc.FloorplanRefs()
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2 (blank filename skipped)", len(refs))
	}
	for _, ref := range refs {
		if ref.ListingID != "60212930" {
			t.Fatalf("ref listing id = %q", ref.ListingID)
		}
		if !strings.HasPrefix(ref.URL, "https://lid.zoocdn.com/u/2400/1800/") {
			t.Fatalf("ref url = %q, want full-resolution cdn prefix", ref.URL)
		}
	}
}
