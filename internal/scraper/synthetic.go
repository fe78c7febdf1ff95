package scraper

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// SyntheticEnabled reports whether the deterministic synthetic scraper may be
// used. Disabled by default in production to prevent data poisoning.
func SyntheticEnabled() bool {
	return os.Getenv("ENABLE_SYNTHETIC") == "true"
}

// Synthetic generates deterministic listings from (zipcode, index). The same
// zipcode always yields the same inventory, which makes it usable both as a
// miner-side scraper in dev loops and as the validator-side verify oracle in
// tests: Verify regenerates the reference copy and diffs fields.
type Synthetic struct {
	Now func() time.Time // Injectable clock for scrapedTimestamp
}

func NewSynthetic() *Synthetic {
	return &Synthetic{Now: time.Now}
}

// Scrape produces targetCount canonical listings for the zipcode.
func (s *Synthetic) Scrape(ctx context.Context, zipcode string, targetCount int, deadline time.Time) ([]models.Listing, error) {
	listings := make([]models.Listing, 0, targetCount)
	for i := 0; i < targetCount; i++ {
		select {
		case <-ctx.Done():
			return listings, ctx.Err()
		default:
		}
		listings = append(listings, s.generate(zipcode, i))
	}
	return listings, nil
}

// Verify regenerates the reference listing from the URI and compares fields.
func (s *Synthetic) Verify(ctx context.Context, listing models.Listing) (VerifyResult, error) {
	var zipcode string
	var index int
	if _, err := fmt.Sscanf(listing.URI, "synthetic://%5s/%d", &zipcode, &index); err != nil {
		return VerifyResult{Exists: false}, nil
	}
	reference := s.generate(zipcode, index)
	return VerifyResult{
		Exists:        true,
		MatchedFields: FieldsMatch(listing, reference),
	}, nil
}

// generate derives one stable listing from the zipcode digits and index.
func (s *Synthetic) generate(zipcode string, index int) models.Listing {
	// Cheap stable hash of the zipcode for per-market variation
	var zh int
	for _, c := range zipcode {
		zh = zh*31 + int(c)
	}
	scraped := s.Now().UTC().Truncate(time.Second)
	return models.Listing{
		URI:              fmt.Sprintf("synthetic://%s/%d", zipcode, index),
		Zipcode:          zipcode,
		Address:          fmt.Sprintf("%d Market St Unit %d", 100+index, zh%90+1),
		Price:            int64(150_000 + (zh%400)*1000 + index*2500),
		Bedrooms:         index%5 + 1,
		Bathrooms:        float64(index%3) + 1.5,
		LivingArea:       800 + (index%40)*55,
		HomeType:         "single_family",
		HomeStatus:       "for_sale",
		ListingDate:      scraped.Add(-72 * time.Hour).Format(time.RFC3339),
		ScrapedTimestamp: scraped.Format(time.RFC3339),
		Latitude:         33.0 + float64(zh%300)/100.0,
		Longitude:        -118.0 + float64(zh%400)/100.0,
		SourceID:         fmt.Sprintf("syn-%s-%06d", zipcode, index),
	}
}
