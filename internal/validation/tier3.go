package validation

import (
	"context"
	"sort"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// SpotCheckPassRate is the minimum fraction of selected listings that must
// verify against the reference source.
const SpotCheckPassRate = 0.80

// VerifyDeadline is the hard per-call budget for a reference scraper fetch.
// A timeout counts as not verified, never as an epoch fault.
const VerifyDeadline = 30 * time.Second

// Tier3Checker runs the deterministic spot-check. Index selection is a pure
// function of (nonce, minerID, submittedAt, listingCount); the scraper fetch
// is the only external effect and is memoized per uri in the epoch cache.
type Tier3Checker struct {
	Nonce   []byte
	Scraper scraper.Scraper
	Cache   *VerifyCache
}

// Run selects k listings from the uri-sorted submission and verifies each
// against the reference source.
func (t *Tier3Checker) Run(ctx context.Context, listings []models.Listing, minerID string, submittedAt time.Time) *models.Tier3Result {
	n := len(listings)
	if n == 0 {
		return &models.Tier3Result{Passes: false}
	}

	sorted := make([]models.Listing, n)
	copy(sorted, listings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })

	seed := SpotCheckSeed(t.Nonce, minerID, submittedAt, n)
	k := SpotCheckCount(n)
	indices := SelectIndices(seed, n, k)

	verified := 0
	for _, idx := range indices {
		if t.verify(ctx, sorted[idx]) {
			verified++
		}
	}

	rate := float64(verified) / float64(k)
	return &models.Tier3Result{
		Passes:          rate >= SpotCheckPassRate,
		PassRate:        rate,
		SelectedIndices: indices,
		Seed:            seed,
	}
}

func (t *Tier3Checker) verify(ctx context.Context, listing models.Listing) bool {
	if cached, ok := t.Cache.Get(listing.URI); ok {
		return cached.Verified()
	}

	callCtx, cancel := context.WithTimeout(ctx, VerifyDeadline)
	defer cancel()

	res, err := t.Scraper.Verify(callCtx, listing)
	if err != nil {
		// Timeouts and transport faults are inconclusive: the check fails but
		// nothing is cached, so a re-run may still succeed.
		return false
	}
	t.Cache.Put(listing.URI, res)
	return res.Verified()
}
