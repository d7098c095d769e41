// Package parser maps the source's detail pages and GraphQL responses into
// the fixed listing schema.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/propfetch/zooplafetch/models"
)

// floorplanCDNPrefix turns a floorplan filename into a full-resolution
// image URL on the source's CDN.
const floorplanCDNPrefix = "https://lid.zoocdn.com/u/2400/1800/"

// DetailDocument is the decoded payload of one listing detail page.
type DetailDocument struct {
	details listingDetails
}

type listingDetails struct {
	ListingID           json.Number      `json:"listingId"`
	AdTargeting         map[string]any   `json:"adTargeting"`
	PointsOfInterest    []pointOfInterest `json:"pointsOfInterest"`
	DetailedDescription *string          `json:"detailedDescription"`
	Location            *struct {
		Coordinates struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
	FloorPlan *struct {
		Image []struct {
			Filename string `json:"filename"`
		} `json:"image"`
	} `json:"floorPlan"`
}

type pointOfInterest struct {
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	DistanceMiles *float64 `json:"distanceMiles"`
}

// ParseDetailBody locates the embedded application/json script of a detail
// page and decodes the listing details out of it.
func ParseDetailBody(body []byte) (*DetailDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}

	var payload string
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(text, `{"props":`) {
			payload = text
			return false
		}
		return true
	})
	if payload == "" {
		return nil, fmt.Errorf("no embedded listing data found")
	}

	var page struct {
		Props struct {
			PageProps struct {
				ListingDetails listingDetails `json:"listingDetails"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode listing data: %w", err)
	}

	details := page.Props.PageProps.ListingDetails
	if details.ListingID.String() == "" {
		return nil, fmt.Errorf("listing data has no listing id")
	}
	return &DetailDocument{details: details}, nil
}

// ListingID returns the listing's id as text.
func (d *DetailDocument) ListingID() string {
	return d.details.ListingID.String()
}

// Record maps the document onto the fixed listing schema. Attributes the
// source dropped or renamed come back as nil rather than zeros.
func (d *DetailDocument) Record(url string) *models.ListingRecord {
	ad := d.details.AdTargeting
	record := &models.ListingRecord{
		ListingID: d.ListingID(),
		URL:       url,

		Acorn:             asInt(ad["acorn"]),
		AcornType:         asInt(ad["acornType"]),
		AreaName:          asString(ad["areaName"]),
		BedsMax:           asInt(ad["bedsMax"]),
		BedsMin:           asInt(ad["bedsMin"]),
		BranchID:          asInt(ad["branchId"]),
		BranchName:        asString(ad["branchName"]),
		BrandName:         asString(ad["brandName"]),
		ChainFree:         asBool(ad["chainFree"]),
		CompanyID:         asInt(ad["companyId"]),
		CountryCode:       asString(ad["countryCode"]),
		CountyAreaName:    asString(ad["countyAreaName"]),
		CurrencyCode:      asString(ad["currencyCode"]),
		DisplayAddress:    asString(ad["displayAddress"]),
		FurnishedState:    asString(ad["furnishedState"]),
		GroupID:           asInt(ad["groupId"]),
		HasEPC:            asBool(ad["hasEpc"]),
		HasFloorplan:      asBool(ad["hasFloorplan"]),
		Incode:            asString(ad["incode"]),
		IsRetirementHome:  asBool(ad["isRetirementHome"]),
		IsSharedOwnership: asBool(ad["isSharedOwnership"]),
		ListingCondition:  asString(ad["listingCondition"]),
		ListingsCategory:  asString(ad["listingsCategory"]),
		ListingStatus:     asString(ad["listingStatus"]),
		MemberType:        asString(ad["memberType"]),
		NumBaths:          asInt(ad["numBaths"]),
		NumBeds:           asInt(ad["numBeds"]),
		NumImages:         asInt(ad["numImages"]),
		NumRecepts:        asInt(ad["numRecepts"]),
		Outcode:           asString(ad["outcode"]),
		PostalArea:        asString(ad["postalArea"]),
		PostTownName:      asString(ad["postTownName"]),
		PremiumListing:    asBool(ad["premiumListing"]),
		Price:             asFloat(ad["price"]),
		PriceActual:       asFloat(ad["priceActual"]),
		PriceMax:          asFloat(ad["priceMax"]),
		PriceMin:          asFloat(ad["priceMin"]),
		PriceQualifier:    asString(ad["priceQualifier"]),
		PropertyHighlight: asString(ad["propertyHighlight"]),
		PropertyType:      asString(ad["propertyType"]),
		RegionName:        asString(ad["regionName"]),
		Section:           asString(ad["section"]),
		SizeSqFeet:        asFloat(ad["sizeSqFeet"]),
		Tenure:            asString(ad["tenure"]),
		ZIndex:            asString(ad["zindex"]),

		DetailedDescription: d.details.DetailedDescription,
		AreaConfidence:      models.ConfidenceNone,
		ScrapedAt:           time.Now(),
	}

	if d.details.Location != nil {
		record.Latitude = d.details.Location.Coordinates.Latitude
		record.Longitude = d.details.Location.Coordinates.Longitude
	}

	record.NearestUndergroundStation = d.nearestPOI("london_underground_station")
	record.NearestNationalRailStation = d.nearestPOI("national_rail_station")
	record.NearestPrimarySchool = d.nearestPOI("primary_school")
	record.NearestSecondarySchool = d.nearestPOI("secondary_school")

	return record
}

// FloorplanRefs lists the CDN URLs of the listing's floorplan images. A
// listing without a floorplan block yields none.
func (d *DetailDocument) FloorplanRefs() []models.FloorplanRef {
	if d.details.FloorPlan == nil {
		return nil
	}
	refs := make([]models.FloorplanRef, 0, len(d.details.FloorPlan.Image))
	for _, image := range d.details.FloorPlan.Image {
		if image.Filename == "" {
			continue
		}
		refs = append(refs, models.FloorplanRef{
			ListingID: d.ListingID(),
			URL:       floorplanCDNPrefix + image.Filename,
		})
	}
	return refs
}

func (d *DetailDocument) nearestPOI(poiType string) models.POI {
	var nearest *pointOfInterest
	for i := range d.details.PointsOfInterest {
		poi := &d.details.PointsOfInterest[i]
		if poi.Type != poiType || poi.DistanceMiles == nil {
			continue
		}
		if nearest == nil || *poi.DistanceMiles < *nearest.DistanceMiles {
			nearest = poi
		}
	}
	if nearest == nil {
		return models.POI{}
	}
	title := nearest.Title
	distance := *nearest.DistanceMiles
	return models.POI{Title: &title, DistanceMiles: &distance}
}

func asString(v any) *string {
	switch value := v.(type) {
	case string:
		if value == "" {
			return nil
		}
		return &value
	case json.Number:
		s := value.String()
		return &s
	default:
		return nil
	}
}

func asInt(v any) *int {
	switch value := v.(type) {
	case json.Number:
		parsed, err := strconv.Atoi(value.String())
		if err != nil {
			return nil
		}
		return &parsed
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func asFloat(v any) *float64 {
	switch value := v.(type) {
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return nil
		}
		return &parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func asBool(v any) *bool {
	switch value := v.(type) {
	case bool:
		return &value
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(value)))
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}
