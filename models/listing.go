// Package models defines data structures shared across the fetcher.
package models

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Section selects the listings market to search.
type Section string

const (
	SectionForSale Section = "for-sale"
	SectionToRent  Section = "to-rent"
)

// PropertyType narrows a query to one kind of property. Empty means all.
type PropertyType string

const (
	PropertyAny       PropertyType = ""
	PropertyHouses    PropertyType = "houses"
	PropertyFlats     PropertyType = "flats"
	PropertyFarmsLand PropertyType = "farms_land"
)

// Query is an immutable description of one search session.
type Query struct {
	Area                       string
	Section                    Section
	PriceMin                   *int
	PriceMax                   *int
	BedsMin                    *int
	BedsMax                    *int
	RadiusMiles                float64
	PropertyType               PropertyType
	SharedOwnership            bool
	NewHomes                   bool
	IncludeAuctions            bool
	IncludeSold                bool
	RetirementHomes            bool
	IncludeSharedAccommodation bool
}

// DefaultQuery mirrors the source site's default search toggles.
func DefaultQuery(area string) Query {
	return Query{
		Area:            area,
		Section:         SectionForSale,
		NewHomes:        true,
		IncludeAuctions: true,
		RetirementHomes: true,
	}
}

// Validate fails fast on filters the source would reject.
func (q Query) Validate() error {
	if q.Area == "" {
		return fmt.Errorf("query area cannot be empty")
	}
	if q.Section != SectionForSale && q.Section != SectionToRent {
		return fmt.Errorf("query section must be %q or %q", SectionForSale, SectionToRent)
	}
	switch q.PropertyType {
	case PropertyAny, PropertyHouses, PropertyFlats, PropertyFarmsLand:
	default:
		return fmt.Errorf("unknown property type %q", q.PropertyType)
	}
	if q.RadiusMiles < 0 {
		return fmt.Errorf("radius cannot be negative")
	}
	if q.PriceMin != nil && *q.PriceMin < 0 {
		return fmt.Errorf("price min cannot be negative")
	}
	if q.PriceMin != nil && q.PriceMax != nil && *q.PriceMin > *q.PriceMax {
		return fmt.Errorf("price min (%d) cannot exceed price max (%d)", *q.PriceMin, *q.PriceMax)
	}
	if q.BedsMin != nil && *q.BedsMin < 0 {
		return fmt.Errorf("beds min cannot be negative")
	}
	if q.BedsMin != nil && q.BedsMax != nil && *q.BedsMin > *q.BedsMax {
		return fmt.Errorf("beds min (%d) cannot exceed beds max (%d)", *q.BedsMin, *q.BedsMax)
	}
	return nil
}

// Params renders the query as search endpoint parameters.
func (q Query) Params() url.Values {
	v := url.Values{}
	v.Set("q", q.Area)
	v.Set("category", "residential")
	v.Set("search_source", string(q.Section))
	v.Set("section", string(q.Section))
	v.Set("view_type", "list")
	v.Set("results_sort", "newest_listings")
	v.Set("radius", strconv.FormatFloat(q.RadiusMiles, 'f', -1, 64))
	if q.PriceMin != nil {
		v.Set("price_min", strconv.Itoa(*q.PriceMin))
	}
	if q.PriceMax != nil {
		v.Set("price_max", strconv.Itoa(*q.PriceMax))
	}
	if q.BedsMin != nil {
		v.Set("beds_min", strconv.Itoa(*q.BedsMin))
	}
	if q.BedsMax != nil {
		v.Set("beds_max", strconv.Itoa(*q.BedsMax))
	}
	if q.PropertyType != PropertyAny {
		v.Set("property_type", string(q.PropertyType))
	}
	v.Set("new_homes", includeExclude(q.NewHomes))
	v.Set("retirement_homes", trueFalse(q.RetirementHomes))
	v.Set("shared_ownership", trueFalse(q.SharedOwnership))
	v.Set("include_auctions", trueFalse(q.IncludeAuctions))
	v.Set("include_sold", trueFalse(q.IncludeSold))
	v.Set("include_shared_accommodation", trueFalse(q.IncludeSharedAccommodation))
	return v
}

func includeExclude(b bool) string {
	if b {
		return "include"
	}
	return "exclude"
}

func trueFalse(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ListingRef identifies one listing discovered during pagination.
type ListingRef struct {
	ID  string
	URL string
}

// FloorplanRef points at one floorplan image belonging to a listing.
type FloorplanRef struct {
	ListingID string
	URL       string
}

// ConfidenceClass grades how trustworthy an area estimate is.
type ConfidenceClass string

const (
	ConfidenceHigh ConfidenceClass = "high"
	ConfidenceLow  ConfidenceClass = "low"
	ConfidenceNone ConfidenceClass = "none"
)

// AreaEstimate is the aggregated floorplan measurement for one listing.
// SqFt is meaningful only when Known reports true.
type AreaEstimate struct {
	SqFt       float64
	Confidence ConfidenceClass
}

// Known reports whether the estimate carries a usable square footage.
func (a AreaEstimate) Known() bool {
	return a.Confidence == ConfidenceHigh || a.Confidence == ConfidenceLow
}

// PriceHistoryEntry is one dated price event for a listing.
type PriceHistoryEntry struct {
	ListingID  string    `csv:"listing_id" json:"listing_id"`
	Date       time.Time `csv:"date" json:"date"`
	Price      float64   `csv:"price" json:"price"`
	ChangeType string    `csv:"price_change_type" json:"price_change_type"`
}

// PriceHistorySummary condenses a listing's price events into row columns.
type PriceHistorySummary struct {
	FirstListed          *time.Time `json:"first_listed,omitempty"`
	NumberOfPriceChanges int        `json:"number_of_price_changes"`
	AvgPctPerPriceChange *float64   `json:"avg_pct_per_price_change,omitempty"`
	MaxPctPerPriceChange *float64   `json:"max_pct_per_price_change,omitempty"`
	MinPctPerPriceChange *float64   `json:"min_pct_per_price_change,omitempty"`
}

// POI holds the nearest point of interest of one type.
type POI struct {
	Title         *string  `json:"title,omitempty"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

// ListingRecord is the fixed schema for one listing row. The source exposes
// a loose attribute bag; pinning the fields here surfaces renames at compile
// time instead of as silently missing columns. Optional attributes are
// pointers so an absent value never masquerades as a zero.
type ListingRecord struct {
	ListingID string `json:"listingId"`
	URL       string `json:"url"`

	Acorn           *int    `json:"acorn,omitempty"`
	AcornType       *int    `json:"acornType,omitempty"`
	AreaName        *string `json:"areaName,omitempty"`
	BedsMax         *int    `json:"bedsMax,omitempty"`
	BedsMin         *int    `json:"bedsMin,omitempty"`
	BranchID        *int    `json:"branchId,omitempty"`
	BranchName      *string `json:"branchName,omitempty"`
	BrandName       *string `json:"brandName,omitempty"`
	ChainFree       *bool   `json:"chainFree,omitempty"`
	CompanyID       *int    `json:"companyId,omitempty"`
	CountryCode     *string `json:"countryCode,omitempty"`
	CountyAreaName  *string `json:"countyAreaName,omitempty"`
	CurrencyCode    *string `json:"currencyCode,omitempty"`
	DisplayAddress  *string `json:"displayAddress,omitempty"`
	FurnishedState  *string `json:"furnishedState,omitempty"`
	GroupID         *int    `json:"groupId,omitempty"`
	HasEPC          *bool   `json:"hasEpc,omitempty"`
	HasFloorplan    *bool   `json:"hasFloorplan,omitempty"`
	Incode          *string `json:"incode,omitempty"`
	IsRetirementHome *bool  `json:"isRetirementHome,omitempty"`
	IsSharedOwnership *bool `json:"isSharedOwnership,omitempty"`
	ListingCondition *string `json:"listingCondition,omitempty"`
	ListingsCategory *string `json:"listingsCategory,omitempty"`
	ListingStatus   *string `json:"listingStatus,omitempty"`
	MemberType      *string `json:"memberType,omitempty"`
	NumBaths        *int    `json:"numBaths,omitempty"`
	NumBeds         *int    `json:"numBeds,omitempty"`
	NumImages       *int    `json:"numImages,omitempty"`
	NumRecepts      *int    `json:"numRecepts,omitempty"`
	Outcode         *string `json:"outcode,omitempty"`
	PostalArea      *string `json:"postalArea,omitempty"`
	PostTownName    *string `json:"postTownName,omitempty"`
	PremiumListing  *bool   `json:"premiumListing,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	PriceActual     *float64 `json:"priceActual,omitempty"`
	PriceMax        *float64 `json:"priceMax,omitempty"`
	PriceMin        *float64 `json:"priceMin,omitempty"`
	PriceQualifier  *string `json:"priceQualifier,omitempty"`
	PropertyHighlight *string `json:"propertyHighlight,omitempty"`
	PropertyType    *string `json:"propertyType,omitempty"`
	RegionName      *string `json:"regionName,omitempty"`
	Section         *string `json:"section,omitempty"`
	SizeSqFeet      *float64 `json:"sizeSqFeet,omitempty"`
	Tenure          *string `json:"tenure,omitempty"`
	ZIndex          *string `json:"zindex,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	DetailedDescription *string `json:"detailedDescription,omitempty"`

	NearestUndergroundStation POI `json:"nearestUndergroundStation"`
	NearestNationalRailStation POI `json:"nearestNationalRailStation"`
	NearestPrimarySchool      POI `json:"nearestPrimarySchool"`
	NearestSecondarySchool    POI `json:"nearestSecondarySchool"`

	PriceHistory PriceHistorySummary `json:"priceHistory"`

	// TotalSqFootage stays nil when no legible measurement survived
	// extraction; never zero-by-default.
	TotalSqFootage  *float64        `json:"total_sq_footage,omitempty"`
	AreaConfidence  ConfidenceClass `json:"area_confidence"`
	PoundsPerSqFoot *float64        `json:"pounds_per_sq_foot,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// ListingFailure records a listing that could not be collected.
type ListingFailure struct {
	ListingID string `json:"listing_id"`
	URL       string `json:"url,omitempty"`
	Reason    string `json:"reason"`
}

// CrawlReport is the final output of one extraction run: one entry per
// discovered listing, either as a row or as a failure, never both.
type CrawlReport struct {
	SessionID string
	Query     Query

	Rows     []*ListingRecord
	Failures []ListingFailure

	// PartialPagination is set when the page walk aborted early and the
	// discovered id set may be incomplete.
	PartialPagination bool

	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	RetryCount   int
	ErrorCount   int
}

// SuccessRate reports the fraction of discovered listings that produced rows.
func (r *CrawlReport) SuccessRate() float64 {
	total := len(r.Rows) + len(r.Failures)
	if total == 0 {
		return 0
	}
	return float64(len(r.Rows)) / float64(total)
}
