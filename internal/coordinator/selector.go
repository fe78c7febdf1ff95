package coordinator

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sort"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// SelectorConfig tunes epoch assembly. Defaults target 10,000 listings ±10%
// with 5–10% of slots allocated to honeypots.
type SelectorConfig struct {
	TargetListings  int
	TolerancePct    float64
	HoneypotMinFrac float64
	HoneypotMaxFrac float64
	MaxSwaps        int // Bound on overshoot-correction swaps
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		TargetListings:  10_000,
		TolerancePct:    0.10,
		HoneypotMinFrac: 0.05,
		HoneypotMaxFrac: 0.10,
		MaxSwaps:        32,
	}
}

// PoolEntry is one zipcode in the eligible or honeypot pool.
type PoolEntry struct {
	Zipcode          string `json:"zipcode"`
	ExpectedListings int    `json:"expectedListings"`
	MarketTier       string `json:"marketTier"`
}

// BuildEpoch assembles the frozen assignment record for the 4-hour boundary
// at startAt. Candidates are drawn uniformly from the eligible pool minus the
// cooldown set, added greedily until the expected-listing sum lands inside
// the target band; overshoots are corrected by swapping the last addition for
// a smaller candidate, with the swap count bounded to prevent oscillation.
// Honeypot slots come from a separate pool and never count toward the target.
func BuildEpoch(startAt time.Time, pool, honeypotPool []PoolEntry, cooldown map[string]bool, cfg SelectorConfig, rng *mrand.Rand) (*models.Epoch, error) {
	lower := int(float64(cfg.TargetListings) * (1 - cfg.TolerancePct))
	upper := int(float64(cfg.TargetListings) * (1 + cfg.TolerancePct))

	eligible := make([]PoolEntry, 0, len(pool))
	for _, e := range pool {
		if !cooldown[e.Zipcode] {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("zipcode pool exhausted after cooldown filter")
	}
	// Stable base order before shuffling keeps the draw uniform regardless of
	// how the pool was loaded.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Zipcode < eligible[j].Zipcode })
	rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

	var selected []PoolEntry
	sum := 0
	next := 0
	for next < len(eligible) && sum < lower {
		selected = append(selected, eligible[next])
		sum += eligible[next].ExpectedListings
		next++
	}

	// Overshoot correction: swap the last addition for a smaller-expected
	// candidate from the remainder until the sum drops into the band.
	swaps := 0
	for sum > upper && len(selected) > 0 && swaps < cfg.MaxSwaps {
		last := selected[len(selected)-1]
		replaced := false
		for i := next; i < len(eligible); i++ {
			cand := eligible[i]
			candSum := sum - last.ExpectedListings + cand.ExpectedListings
			if cand.ExpectedListings < last.ExpectedListings && candSum <= upper {
				selected[len(selected)-1] = cand
				sum = candSum
				eligible[i], eligible[next] = eligible[next], eligible[i]
				next++
				replaced = true
				break
			}
		}
		if !replaced {
			// No smaller candidate left: drop the last addition entirely.
			selected = selected[:len(selected)-1]
			sum -= last.ExpectedListings
		}
		swaps++
	}
	if sum < lower || sum > upper {
		return nil, fmt.Errorf("cannot reach target band [%d,%d] with pool sum %d", lower, upper, sum)
	}

	assignments := make([]models.ZipcodeAssignment, 0, len(selected)+4)
	for _, e := range selected {
		assignments = append(assignments, models.ZipcodeAssignment{
			Zipcode:          e.Zipcode,
			ExpectedListings: e.ExpectedListings,
			MarketTier:       e.MarketTier,
		})
	}

	// Honeypot slots: 5–10% of the selected count, drawn from the separate pool.
	hpEligible := make([]PoolEntry, 0, len(honeypotPool))
	for _, e := range honeypotPool {
		if !cooldown[e.Zipcode] {
			hpEligible = append(hpEligible, e)
		}
	}
	sort.Slice(hpEligible, func(i, j int) bool { return hpEligible[i].Zipcode < hpEligible[j].Zipcode })
	rng.Shuffle(len(hpEligible), func(i, j int) { hpEligible[i], hpEligible[j] = hpEligible[j], hpEligible[i] })

	hpCount := honeypotSlots(len(selected), cfg, rng)
	if hpCount > len(hpEligible) {
		hpCount = len(hpEligible)
	}
	for _, e := range hpEligible[:hpCount] {
		assignments = append(assignments, models.ZipcodeAssignment{
			Zipcode:          e.Zipcode,
			ExpectedListings: e.ExpectedListings,
			IsHoneypot:       true,
			MarketTier:       e.MarketTier,
		})
	}

	// Honeypots hide among ordinary slots: one shuffle over the whole list.
	rng.Shuffle(len(assignments), func(i, j int) { assignments[i], assignments[j] = assignments[j], assignments[i] })

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}

	start := startAt.UTC().Truncate(models.EpochDuration)
	return &models.Epoch{
		EpochID:        models.EpochIDFor(start),
		StartAt:        start,
		EndAt:          start.Add(models.EpochDuration),
		Status:         models.EpochActive,
		TargetListings: cfg.TargetListings,
		TolerancePct:   cfg.TolerancePct,
		Nonce:          nonce,
		Zipcodes:       assignments,
	}, nil
}

func honeypotSlots(selected int, cfg SelectorConfig, rng *mrand.Rand) int {
	minSlots := int(float64(selected) * cfg.HoneypotMinFrac)
	maxSlots := int(float64(selected) * cfg.HoneypotMaxFrac)
	if minSlots < 1 {
		minSlots = 1
	}
	if maxSlots < minSlots {
		maxSlots = minSlots
	}
	return minSlots + rng.Intn(maxSlots-minSlots+1)
}
