package scraper

import (
	"context"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Scraper is the external contract miners ship their own implementation of.
// Scrape must return canonicalized listings and must not deduplicate across
// calls; the caller owns dedup. Verify is the validator-side oracle used by
// the tier-3 spot-check.
type Scraper interface {
	Scrape(ctx context.Context, zipcode string, targetCount int, deadline time.Time) ([]models.Listing, error)
	Verify(ctx context.Context, listing models.Listing) (VerifyResult, error)
}

// VerifyResult reports whether the property exists at the source and which
// core fields matched within tolerance.
type VerifyResult struct {
	Exists        bool            `json:"exists"`
	MatchedFields map[string]bool `json:"matchedFields"` // address/price/bedrooms/bathrooms/zipcode
}

// Verified applies the spot-check acceptance rule: the property exists and
// every core field matched.
func (v VerifyResult) Verified() bool {
	if !v.Exists {
		return false
	}
	for _, field := range []string{"address", "price", "bedrooms", "bathrooms", "zipcode"} {
		if !v.MatchedFields[field] {
			return false
		}
	}
	return true
}

// FieldsMatch compares a submitted listing against the reference copy using
// the canonical tolerances: price within ±2% or ±$5,000, living area within
// ±5%, everything else exact.
func FieldsMatch(submitted, reference models.Listing) map[string]bool {
	matched := map[string]bool{
		"address":   submitted.Address == reference.Address,
		"bedrooms":  submitted.Bedrooms == reference.Bedrooms,
		"bathrooms": submitted.Bathrooms == reference.Bathrooms,
		"zipcode":   submitted.Zipcode == reference.Zipcode,
		"price":     priceWithinTolerance(submitted.Price, reference.Price),
	}
	if submitted.LivingArea > 0 && reference.LivingArea > 0 {
		matched["livingArea"] = areaWithinTolerance(submitted.LivingArea, reference.LivingArea)
	}
	return matched
}

func priceWithinTolerance(a, b int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff <= 5000 {
		return true
	}
	// ±2% of the reference price
	return float64(diff) <= 0.02*float64(b)
}

func areaWithinTolerance(a, b int) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= 0.05*float64(b)
}
