package scoring

import (
	"math"
	"testing"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

func rankingFixture(zipcode string, total int, rewards map[string]models.Reward, winners, participants int) models.ZipcodeRanking {
	r := models.ZipcodeRanking{
		Zipcode:            zipcode,
		Rewards:            rewards,
		TotalListingsFound: total,
	}
	for i := 0; i < winners; i++ {
		r.Winners = append(r.Winners, models.Winner{Rank: i + 1})
	}
	for i := 0; i < participants; i++ {
		r.Participants = append(r.Participants, models.Participant{})
	}
	return r
}

func TestAggregateEpoch_SingleZipcodeNormalization(t *testing.T) {
	// Three winners, no participants: raw shares 0.55/0.30/0.10 sum to 0.95
	// and must renormalize to exactly 1.0.
	rankings := []models.ZipcodeRanking{
		rankingFixture("90210", 300, map[string]models.Reward{
			"miner-a": {Rank: 1, Pct: 0.55, Count: 100},
			"miner-b": {Rank: 2, Pct: 0.30, Count: 100},
			"miner-c": {Rank: 3, Pct: 0.10, Count: 100},
		}, 3, 0),
	}
	result := AggregateEpoch("2026-03-01T12:00:00Z", rankings)

	want := map[string]float64{
		"miner-a": 0.55 / 0.95,
		"miner-b": 0.30 / 0.95,
		"miner-c": 0.10 / 0.95,
	}
	for id, score := range want {
		if math.Abs(result.MinerScores[id]-score) > 1e-12 {
			t.Errorf("Score for %s = %v, want %v", id, result.MinerScores[id], score)
		}
	}

	var sum float64
	for _, s := range result.MinerScores {
		sum += s
	}
	if math.Abs(sum-1.0) > 1e-12 {
		t.Errorf("Scores sum to %v, want 1.0", sum)
	}

	if result.ZipcodeWeights["90210"] != 1.0 {
		t.Errorf("Sole zipcode weight = %v, want 1.0", result.ZipcodeWeights["90210"])
	}
	if result.TotalEpochListings != 300 || result.TotalWinners != 3 || result.TotalParticipants != 0 {
		t.Errorf("Totals wrong: %+v", result)
	}
}

func TestAggregateEpoch_WeightsByValidatedListings(t *testing.T) {
	rankings := []models.ZipcodeRanking{
		rankingFixture("10001", 300, map[string]models.Reward{
			"miner-a": {Rank: 1, Pct: 0.55, Count: 300},
		}, 1, 0),
		rankingFixture("90210", 100, map[string]models.Reward{
			"miner-b": {Rank: 1, Pct: 0.55, Count: 100},
		}, 1, 0),
	}
	result := AggregateEpoch("2026-03-01T12:00:00Z", rankings)

	if math.Abs(result.ZipcodeWeights["10001"]-0.75) > 1e-12 {
		t.Errorf("Weight for 10001 = %v, want 0.75", result.ZipcodeWeights["10001"])
	}
	if math.Abs(result.ZipcodeWeights["90210"]-0.25) > 1e-12 {
		t.Errorf("Weight for 90210 = %v, want 0.25", result.ZipcodeWeights["90210"])
	}

	// Both miners hold rank 1; scores follow the zipcode weights exactly.
	if math.Abs(result.MinerScores["miner-a"]-0.75) > 1e-12 {
		t.Errorf("Score for miner-a = %v, want 0.75", result.MinerScores["miner-a"])
	}
	if math.Abs(result.MinerScores["miner-b"]-0.25) > 1e-12 {
		t.Errorf("Score for miner-b = %v, want 0.25", result.MinerScores["miner-b"])
	}
}

func TestAggregateEpoch_ZeroWeightZipcodesOmitted(t *testing.T) {
	rankings := []models.ZipcodeRanking{
		rankingFixture("10001", 200, map[string]models.Reward{
			"miner-a": {Rank: 1, Pct: 0.55, Count: 200},
		}, 1, 0),
		rankingFixture("59301", 0, map[string]models.Reward{}, 0, 0),
	}
	result := AggregateEpoch("2026-03-01T12:00:00Z", rankings)

	if _, present := result.ZipcodeWeights["59301"]; present {
		t.Errorf("Zero-listing zipcode serialized with a weight entry")
	}
	if result.ZipcodeWeights["10001"] != 1.0 {
		t.Errorf("Weight for the only productive zipcode = %v, want 1.0", result.ZipcodeWeights["10001"])
	}
}

func TestAggregateEpoch_EmptyEpoch(t *testing.T) {
	result := AggregateEpoch("2026-03-01T12:00:00Z", nil)

	if result.TotalEpochListings != 0 {
		t.Errorf("TotalEpochListings = %d, want 0", result.TotalEpochListings)
	}
	if len(result.MinerScores) != 0 || len(result.ZipcodeWeights) != 0 {
		t.Errorf("Empty epoch produced scores: %+v", result)
	}
	// The maps must exist (not nil) so the canonical form serializes them as {}.
	if result.MinerScores == nil || result.ZipcodeWeights == nil {
		t.Errorf("Empty epoch returned nil maps")
	}
}

func TestAggregateEpoch_OrderInsensitive(t *testing.T) {
	a := rankingFixture("10001", 300, map[string]models.Reward{
		"miner-a": {Rank: 1, Pct: 0.55, Count: 300},
		"miner-b": {Rank: 2, Pct: 0.30, Count: 0},
	}, 2, 0)
	b := rankingFixture("90210", 100, map[string]models.Reward{
		"miner-b": {Rank: 1, Pct: 0.55, Count: 100},
	}, 1, 0)

	first := AggregateEpoch("e", []models.ZipcodeRanking{a, b})
	second := AggregateEpoch("e", []models.ZipcodeRanking{b, a})

	for id := range first.MinerScores {
		if first.MinerScores[id] != second.MinerScores[id] {
			t.Errorf("Input order changed score for %s: %v vs %v",
				id, first.MinerScores[id], second.MinerScores[id])
		}
	}
}
