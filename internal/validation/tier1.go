package validation

import (
	"math"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// QuantityTolerance is the tier-1 band around the expected listing count.
const QuantityTolerance = 0.15

// bandEpsilon absorbs float representation error at the band edges so that
// an exact multiple of the tolerance stays inside the inclusive band
// (expected 100 gives [85, 115], not [85, 114]).
const bandEpsilon = 1e-9

// RunTier1 checks quantity against the expected range and records the
// storage-derived submission time for downstream ordering. Pure function of
// its arguments; no clock reads.
func RunTier1(listings []models.Listing, expected int, submittedAt time.Time) *models.Tier1Result {
	minCount := int(math.Ceil(float64(expected)*(1-QuantityTolerance) - bandEpsilon))
	maxCount := int(math.Floor(float64(expected)*(1+QuantityTolerance) + bandEpsilon))
	actual := len(listings)
	return &models.Tier1Result{
		Passes:      actual >= minCount && actual <= maxCount,
		ActualCount: actual,
		ExpectedMin: minCount,
		ExpectedMax: maxCount,
		SubmittedAt: submittedAt.UTC().Truncate(time.Second),
	}
}
