package scoring

import (
	"sort"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// AggregateEpoch combines per-zipcode rankings into normalized per-miner
// epoch scores. Each zipcode is weighted by its share of the total validated
// listings; every map walk runs over sorted keys because the result feeds the
// consensus hash.
func AggregateEpoch(epochID string, rankings []models.ZipcodeRanking) models.EpochResult {
	result := models.EpochResult{
		EpochID:        epochID,
		MinerScores:    map[string]float64{},
		ZipcodeWeights: map[string]float64{},
	}

	ordered := make([]models.ZipcodeRanking, len(rankings))
	copy(ordered, rankings)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Zipcode < ordered[j].Zipcode })

	totalListings := 0
	for _, r := range ordered {
		totalListings += r.TotalListingsFound
		result.TotalWinners += len(r.Winners)
		result.TotalParticipants += len(r.Participants)
	}
	result.TotalEpochListings = totalListings

	// No valid submissions anywhere: the result is empty but the field
	// totalEpochListings must still serialize. Returning here, not earlier.
	if totalListings == 0 {
		return result
	}

	for _, r := range ordered {
		if r.TotalListingsFound == 0 {
			continue
		}
		weight := float64(r.TotalListingsFound) / float64(totalListings)
		result.ZipcodeWeights[r.Zipcode] = weight

		minerIDs := make([]string, 0, len(r.Rewards))
		for id := range r.Rewards {
			minerIDs = append(minerIDs, id)
		}
		sort.Strings(minerIDs)
		for _, id := range minerIDs {
			result.MinerScores[id] += r.Rewards[id].Pct * weight
		}
	}

	// Normalize so the scores sum to exactly 1.0. The raw sum is below 1 when
	// a winner slot or the participation pool went unclaimed.
	var sum float64
	ids := make([]string, 0, len(result.MinerScores))
	for id := range result.MinerScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sum += result.MinerScores[id]
	}
	if sum > 0 {
		for _, id := range ids {
			result.MinerScores[id] /= sum
		}
	}

	return result
}
