package validation

import (
	"fmt"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Tier-2 thresholds. A submission must clear all four to pass.
const (
	CompletenessThreshold = 0.90
	ReasonableThreshold   = 0.95
	ConsistencyThreshold  = 0.90
	DuplicateRateCeiling  = 0.05
)

// Reasonable-value bounds for listing fields.
const (
	PriceMin      = 1_000
	PriceMax      = 100_000_000
	BedroomsMax   = 20
	BathroomsMax  = 20
	LivingAreaMin = 50
	LivingAreaMax = 100_000
)

// ConsistencyWindow widens the epoch interval for the scraped-timestamp check.
const ConsistencyWindow = 24 * time.Hour

// RunTier2 computes the four quality ratios for one miner's zipcode
// submission. extraDuplicates is the count of listings flagged by the
// cross-miner duplication scan; they are folded into the duplicate rate.
func RunTier2(listings []models.Listing, zipcode string, epochStart, epochEnd time.Time, extraDuplicates int) *models.Tier2Result {
	total := len(listings)
	if total == 0 {
		return &models.Tier2Result{Passes: false}
	}

	complete := 0
	reasonable := 0
	consistent := 0
	for i := range listings {
		l := &listings[i]
		if l.HasRequiredFields() {
			complete++
		}
		if reasonableValues(l) {
			reasonable++
		}
		if consistentListing(l, zipcode, epochStart, epochEnd) {
			consistent++
		}
	}

	dupes := countDuplicates(listings) + extraDuplicates
	if dupes > total {
		dupes = total
	}

	res := &models.Tier2Result{
		FieldCompleteness: float64(complete) / float64(total),
		ReasonableValues:  float64(reasonable) / float64(total),
		DataConsistency:   float64(consistent) / float64(total),
		DuplicateRate:     float64(dupes) / float64(total),
	}
	res.Passes = res.FieldCompleteness >= CompletenessThreshold &&
		res.ReasonableValues >= ReasonableThreshold &&
		res.DataConsistency >= ConsistencyThreshold &&
		res.DuplicateRate <= DuplicateRateCeiling
	return res
}

func reasonableValues(l *models.Listing) bool {
	if l.Price < PriceMin || l.Price > PriceMax {
		return false
	}
	if l.Bedrooms < 0 || l.Bedrooms > BedroomsMax {
		return false
	}
	if l.Bathrooms < 0 || l.Bathrooms > BathroomsMax {
		return false
	}
	if l.LivingArea != 0 && (l.LivingArea < LivingAreaMin || l.LivingArea > LivingAreaMax) {
		return false
	}
	return l.InUSBounds()
}

func consistentListing(l *models.Listing, zipcode string, epochStart, epochEnd time.Time) bool {
	_, scraped, ok := l.ParseTimestamps()
	if !ok {
		return false
	}
	if scraped.Before(epochStart.Add(-ConsistencyWindow)) || scraped.After(epochEnd.Add(ConsistencyWindow)) {
		return false
	}
	return l.Zipcode == zipcode
}

// countDuplicates counts listings beyond the first occurrence of either an
// identical uri or an identical (address, price) pair.
func countDuplicates(listings []models.Listing) int {
	seenURI := make(map[string]bool, len(listings))
	seenAddrPrice := make(map[string]bool, len(listings))
	dupes := 0
	for i := range listings {
		l := &listings[i]
		key := fmt.Sprintf("%s|%d", l.Address, l.Price)
		if seenURI[l.URI] || seenAddrPrice[key] {
			dupes++
			continue
		}
		seenURI[l.URI] = true
		seenAddrPrice[key] = true
	}
	return dupes
}
