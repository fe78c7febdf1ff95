package models

import "time"

// Listing is the canonical property record. Every listing in the system is
// normalized into this shape at ingest; downstream validation assumes it.
type Listing struct {
	URI              string  `json:"uri" parquet:"uri"`                           // Unique per property within an epoch
	Zipcode          string  `json:"zipcode" parquet:"zipcode"`                   // 5-digit assignment zipcode
	Address          string  `json:"address" parquet:"address"`                   // Street address
	Price            int64   `json:"price" parquet:"price"`                       // USD
	Bedrooms         int     `json:"bedrooms" parquet:"bedrooms"`                 //
	Bathrooms        float64 `json:"bathrooms" parquet:"bathrooms"`               // Half baths allowed
	LivingArea       int     `json:"livingArea,omitempty" parquet:"living_area"`  // sqft, 0 = not reported
	HomeType         string  `json:"homeType" parquet:"home_type"`                // "single_family"/"condo"/...
	HomeStatus       string  `json:"homeStatus" parquet:"home_status"`            // "for_sale"/"pending"/...
	ListingDate      string  `json:"listingDate" parquet:"listing_date"`          // ISO-8601 UTC
	ScrapedTimestamp string  `json:"scrapedTimestamp" parquet:"scraped_ts"`       // ISO-8601 UTC
	Latitude         float64 `json:"latitude" parquet:"latitude"`                 //
	Longitude        float64 `json:"longitude" parquet:"longitude"`               //
	SourceID         string  `json:"sourceId" parquet:"source_id"`                // Scraper-native identifier
}

// HasRequiredFields reports whether every required field of the canonical
// schema is populated. LivingArea is optional.
func (l *Listing) HasRequiredFields() bool {
	return l.URI != "" &&
		l.Zipcode != "" &&
		l.Address != "" &&
		l.Price != 0 &&
		l.Bathrooms != 0 &&
		l.HomeType != "" &&
		l.HomeStatus != "" &&
		l.ListingDate != "" &&
		l.ScrapedTimestamp != "" &&
		l.Latitude != 0 &&
		l.Longitude != 0 &&
		l.SourceID != ""
}

// Continental US bounding box plus Alaska/Hawaii extents. Coordinates outside
// this box cannot belong to a US property listing.
const (
	USLatMin = 18.9
	USLatMax = 71.4
	USLonMin = -179.2
	USLonMax = -66.9
)

// InUSBounds reports whether the listing coordinates fall inside the US box.
func (l *Listing) InUSBounds() bool {
	return l.Latitude >= USLatMin && l.Latitude <= USLatMax &&
		l.Longitude >= USLonMin && l.Longitude <= USLonMax
}

// ParseTimestamps parses listingDate and scrapedTimestamp as ISO-8601 UTC.
// Both must parse for the listing to count toward data consistency.
func (l *Listing) ParseTimestamps() (listed time.Time, scraped time.Time, ok bool) {
	listed, err1 := time.Parse(time.RFC3339, l.ListingDate)
	scraped, err2 := time.Parse(time.RFC3339, l.ScrapedTimestamp)
	return listed, scraped, err1 == nil && err2 == nil
}
