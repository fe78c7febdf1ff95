package validation

import (
	"log"
	"math"
	"sort"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Anti-gaming detection: honeypot recognition, cross-miner duplication, and
// synthetic-data anomaly scans. Runs before the competitive scorer finalizes.

// AnomalyRateCeiling is the per-pattern trigger rate; two or more patterns
// above it mark a submission as synthetic.
const AnomalyRateCeiling = 0.05

// PriceZScoreCeiling flags listings priced wildly off the zipcode's own
// submission distribution.
const PriceZScoreCeiling = 6.0

// CheckHoneypot reports whether a submission touches any honeypot zipcode.
// One hit voids the miner's entire epoch submission.
func CheckHoneypot(sub *models.MinerSubmission, honeypots map[string]bool) bool {
	if len(honeypots) == 0 {
		return false
	}
	zipcodes := make([]string, 0, len(sub.ListingsByZipcode))
	for z := range sub.ListingsByZipcode {
		zipcodes = append(zipcodes, z)
	}
	sort.Strings(zipcodes)
	for _, z := range zipcodes {
		if honeypots[z] && len(sub.ListingsByZipcode[z]) > 0 {
			log.Printf("[Detector] Honeypot %s triggered by miner %s", z, sub.MinerID)
			return true
		}
		for _, l := range sub.ListingsByZipcode[z] {
			if honeypots[l.Zipcode] {
				log.Printf("[Detector] Honeypot listing %s submitted by miner %s", l.URI, sub.MinerID)
				return true
			}
		}
	}
	return false
}

// CrossMinerDuplicates finds uris appearing across at least ⌈N/2⌉ miners for
// the same zipcode and returns, per miner, how many of its listings are
// implicated. The caller folds these counts into the tier-2 duplicate rate.
// The threshold never drops below two holders: a uri only one miner submitted
// cannot be a cross-miner duplicate, even when N = 2 makes ⌈N/2⌉ = 1.
func CrossMinerDuplicates(listingsByMiner map[string][]models.Listing) map[string]int {
	n := len(listingsByMiner)
	if n < 2 {
		return map[string]int{}
	}
	threshold := (n + 1) / 2
	if threshold < 2 {
		threshold = 2
	}

	// uri → set of miners that submitted it
	holders := make(map[string]map[string]bool)
	for minerID, listings := range listingsByMiner {
		for _, l := range listings {
			if holders[l.URI] == nil {
				holders[l.URI] = make(map[string]bool)
			}
			holders[l.URI][minerID] = true
		}
	}

	shared := make(map[string]bool)
	for uri, miners := range holders {
		if len(miners) >= threshold {
			shared[uri] = true
		}
	}
	if len(shared) == 0 {
		return map[string]int{}
	}

	counts := make(map[string]int)
	for minerID, listings := range listingsByMiner {
		for _, l := range listings {
			if shared[l.URI] {
				counts[minerID]++
			}
		}
	}
	return counts
}

// AnomalyScan computes the three synthetic-data pattern rates for one
// submission and reports whether two or more trigger above the ceiling.
type AnomalyScan struct {
	OutOfBoundsRate   float64 `json:"outOfBoundsRate"`   // Coordinates outside the US box
	DateInversionRate float64 `json:"dateInversionRate"` // listingDate after scrapedTimestamp
	PriceOutlierRate  float64 `json:"priceOutlierRate"`  // |z| > 6 vs the zipcode distribution
	IsSynthetic       bool    `json:"isSynthetic"`
}

// ScanForAnomalies evaluates one miner's listings for a zipcode. A synthetic
// verdict forces a tier-2 failure upstream.
func ScanForAnomalies(listings []models.Listing) AnomalyScan {
	total := len(listings)
	if total == 0 {
		return AnomalyScan{}
	}

	outOfBounds := 0
	inverted := 0
	for i := range listings {
		l := &listings[i]
		if !l.InUSBounds() {
			outOfBounds++
		}
		if listed, scraped, ok := l.ParseTimestamps(); ok && listed.After(scraped) {
			inverted++
		}
	}

	outliers := priceOutliers(listings)

	scan := AnomalyScan{
		OutOfBoundsRate:   float64(outOfBounds) / float64(total),
		DateInversionRate: float64(inverted) / float64(total),
		PriceOutlierRate:  float64(outliers) / float64(total),
	}

	triggered := 0
	if scan.OutOfBoundsRate > AnomalyRateCeiling {
		triggered++
	}
	if scan.DateInversionRate > AnomalyRateCeiling {
		triggered++
	}
	if scan.PriceOutlierRate > AnomalyRateCeiling {
		triggered++
	}
	scan.IsSynthetic = triggered >= 2
	return scan
}

// priceOutliers counts listings whose price z-score against the submission's
// own distribution exceeds the ceiling.
func priceOutliers(listings []models.Listing) int {
	n := len(listings)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := range listings {
		sum += float64(listings[i].Price)
	}
	mean := sum / float64(n)

	var variance float64
	for i := range listings {
		d := float64(listings[i].Price) - mean
		variance += d * d
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	outliers := 0
	for i := range listings {
		z := math.Abs(float64(listings[i].Price)-mean) / stddev
		if z > PriceZScoreCeiling {
			outliers++
		}
	}
	return outliers
}
