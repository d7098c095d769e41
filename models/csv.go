package models

import (
	"strconv"
	"time"
)

// CSVHeader lists the output columns in a stable order.
func CSVHeader() []string {
	return []string{
		"listing_id", "url", "acorn", "acorn_type", "area_name",
		"beds_max", "beds_min", "branch_id", "branch_name", "brand_name",
		"chain_free", "company_id", "country_code", "county_area_name",
		"currency_code", "display_address", "furnished_state", "group_id",
		"has_epc", "has_floorplan", "incode", "is_retirement_home",
		"is_shared_ownership", "listing_condition", "listings_category",
		"listing_status", "member_type", "num_baths", "num_beds",
		"num_images", "num_recepts", "outcode", "postal_area",
		"post_town_name", "premium_listing", "price", "price_actual",
		"price_max", "price_min", "price_qualifier", "property_highlight",
		"property_type", "region_name", "section", "size_sq_feet", "tenure",
		"zindex", "latitude", "longitude",
		"underground_station_title", "underground_station_distance_miles",
		"national_rail_station_title", "national_rail_station_distance_miles",
		"primary_school_title", "primary_school_distance_miles",
		"secondary_school_title", "secondary_school_distance_miles",
		"first_listed", "number_of_price_changes",
		"avg_pct_per_price_change", "max_pct_per_price_change",
		"min_pct_per_price_change",
		"total_sq_footage", "area_confidence", "pounds_per_sq_foot",
		"scraped_at",
	}
}

// CSVRow renders the record in CSVHeader order. Absent optional fields
// become empty cells rather than zeros.
func (r *ListingRecord) CSVRow() []string {
	return []string{
		r.ListingID, r.URL,
		intCell(r.Acorn), intCell(r.AcornType), strCell(r.AreaName),
		intCell(r.BedsMax), intCell(r.BedsMin), intCell(r.BranchID),
		strCell(r.BranchName), strCell(r.BrandName), boolCell(r.ChainFree),
		intCell(r.CompanyID), strCell(r.CountryCode), strCell(r.CountyAreaName),
		strCell(r.CurrencyCode), strCell(r.DisplayAddress), strCell(r.FurnishedState),
		intCell(r.GroupID), boolCell(r.HasEPC), boolCell(r.HasFloorplan),
		strCell(r.Incode), boolCell(r.IsRetirementHome), boolCell(r.IsSharedOwnership),
		strCell(r.ListingCondition), strCell(r.ListingsCategory), strCell(r.ListingStatus),
		strCell(r.MemberType), intCell(r.NumBaths), intCell(r.NumBeds),
		intCell(r.NumImages), intCell(r.NumRecepts), strCell(r.Outcode),
		strCell(r.PostalArea), strCell(r.PostTownName), boolCell(r.PremiumListing),
		floatCell(r.Price), floatCell(r.PriceActual), floatCell(r.PriceMax),
		floatCell(r.PriceMin), strCell(r.PriceQualifier), strCell(r.PropertyHighlight),
		strCell(r.PropertyType), strCell(r.RegionName), strCell(r.Section),
		floatCell(r.SizeSqFeet), strCell(r.Tenure), strCell(r.ZIndex),
		floatCell(r.Latitude), floatCell(r.Longitude),
		strCell(r.NearestUndergroundStation.Title), floatCell(r.NearestUndergroundStation.DistanceMiles),
		strCell(r.NearestNationalRailStation.Title), floatCell(r.NearestNationalRailStation.DistanceMiles),
		strCell(r.NearestPrimarySchool.Title), floatCell(r.NearestPrimarySchool.DistanceMiles),
		strCell(r.NearestSecondarySchool.Title), floatCell(r.NearestSecondarySchool.DistanceMiles),
		timeCell(r.PriceHistory.FirstListed),
		strconv.Itoa(r.PriceHistory.NumberOfPriceChanges),
		floatCell(r.PriceHistory.AvgPctPerPriceChange),
		floatCell(r.PriceHistory.MaxPctPerPriceChange),
		floatCell(r.PriceHistory.MinPctPerPriceChange),
		floatCell(r.TotalSqFootage), string(r.AreaConfidence), floatCell(r.PoundsPerSqFoot),
		r.ScrapedAt.Format(time.RFC3339),
	}
}

func strCell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func boolCell(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func timeCell(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format("2006-01-02")
}
