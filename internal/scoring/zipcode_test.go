package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

var baseTime = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

func sub(minerID string, offset time.Duration, count int) Submission {
	return Submission{
		MinerID:     minerID,
		SubmittedAt: baseTime.Add(offset),
		Listings:    make([]models.Listing, count),
		Tier1:       &models.Tier1Result{Passes: true, ActualCount: count},
		Tier2:       &models.Tier2Result{Passes: true},
	}
}

// passAll is a tier-3 stub that verifies every submission.
func passAll(ctx context.Context, listings []models.Listing, minerID string, at time.Time) *models.Tier3Result {
	return &models.Tier3Result{Passes: true, PassRate: 1.0}
}

// failFor builds a tier-3 stub that fails the named miners.
func failFor(minerIDs ...string) TierThreeFunc {
	failing := map[string]bool{}
	for _, id := range minerIDs {
		failing[id] = true
	}
	return func(ctx context.Context, listings []models.Listing, minerID string, at time.Time) *models.Tier3Result {
		return &models.Tier3Result{Passes: !failing[minerID], PassRate: 1.0}
	}
}

func TestRankZipcode_TopThreeBySubmissionTime(t *testing.T) {
	subs := []Submission{
		sub("miner-d", 40*time.Minute, 95),
		sub("miner-a", 10*time.Minute, 100),
		sub("miner-c", 30*time.Minute, 105),
		sub("miner-b", 20*time.Minute, 98),
	}
	r := RankZipcode(context.Background(), "90210", 100, subs, passAll)

	if len(r.Winners) != 3 {
		t.Fatalf("Expected 3 winners, got %d", len(r.Winners))
	}
	wantOrder := []string{"miner-a", "miner-b", "miner-c"}
	for i, want := range wantOrder {
		if r.Winners[i].MinerID != want {
			t.Errorf("Rank %d = %s, want %s", i+1, r.Winners[i].MinerID, want)
		}
		if r.Winners[i].Rank != i+1 {
			t.Errorf("Winner %s has rank %d, want %d", r.Winners[i].MinerID, r.Winners[i].Rank, i+1)
		}
	}

	wantPcts := map[string]float64{"miner-a": 0.55, "miner-b": 0.30, "miner-c": 0.10}
	for id, pct := range wantPcts {
		if r.Rewards[id].Pct != pct {
			t.Errorf("Reward for %s = %v, want %v", id, r.Rewards[id].Pct, pct)
		}
	}

	// The fourth valid miner lands in the participation pool with the full 5%.
	if len(r.Participants) != 1 || r.Participants[0].MinerID != "miner-d" {
		t.Fatalf("Expected miner-d as the sole participant, got %+v", r.Participants)
	}
	if r.Rewards["miner-d"].Pct != ParticipationPool {
		t.Errorf("Sole participant share = %v, want %v", r.Rewards["miner-d"].Pct, ParticipationPool)
	}
	if r.TotalListingsFound != 100+98+105 {
		t.Errorf("TotalListingsFound = %d, want %d", r.TotalListingsFound, 100+98+105)
	}
}

func TestRankZipcode_TieBreaksOnMinerID(t *testing.T) {
	// Identical second-precision timestamps: raw minerID bytes decide.
	subs := []Submission{
		sub("miner-b", 0, 100),
		sub("miner-a", 0, 100),
	}
	r := RankZipcode(context.Background(), "90210", 100, subs, passAll)
	if r.Winners[0].MinerID != "miner-a" || r.Winners[1].MinerID != "miner-b" {
		t.Errorf("Tie-break order wrong: %s, %s", r.Winners[0].MinerID, r.Winners[1].MinerID)
	}
}

func TestRankZipcode_SpotCheckFailureDemotes(t *testing.T) {
	// The fastest miner fails tier 3: rank 1 falls to the next passer.
	subs := []Submission{
		sub("miner-a", 10*time.Minute, 100),
		sub("miner-b", 20*time.Minute, 98),
		sub("miner-c", 30*time.Minute, 97),
		sub("miner-d", 40*time.Minute, 96),
	}
	r := RankZipcode(context.Background(), "90210", 100, subs, failFor("miner-a"))

	if len(r.Winners) != 3 || r.Winners[0].MinerID != "miner-b" {
		t.Fatalf("Expected miner-b promoted to rank 1, got %+v", r.Winners)
	}
	if r.Rewards["miner-b"].Pct != 0.55 {
		t.Errorf("Promoted winner share = %v, want 0.55", r.Rewards["miner-b"].Pct)
	}

	if len(r.Participants) != 1 || r.Participants[0].MinerID != "miner-a" {
		t.Fatalf("Expected miner-a demoted to participant, got %+v", r.Participants)
	}
	if r.Participants[0].FailedAt != "tier3" {
		t.Errorf("Demoted participant FailedAt = %q, want tier3", r.Participants[0].FailedAt)
	}
	// The demoted miner still draws from the participation pool.
	if r.Rewards["miner-a"].Pct != ParticipationPool {
		t.Errorf("Demoted miner share = %v, want %v", r.Rewards["miner-a"].Pct, ParticipationPool)
	}
}

func TestRankZipcode_PoolSplitsEqually(t *testing.T) {
	subs := []Submission{
		sub("miner-a", 1*time.Minute, 100),
		sub("miner-b", 2*time.Minute, 100),
		sub("miner-c", 3*time.Minute, 100),
		sub("miner-d", 4*time.Minute, 100),
		sub("miner-e", 5*time.Minute, 100),
	}
	r := RankZipcode(context.Background(), "90210", 100, subs, failFor("miner-e"))

	// miner-d (slow passer) and miner-e (tier-3 failure) split the 5% pool.
	want := ParticipationPool / 2
	for _, id := range []string{"miner-d", "miner-e"} {
		if math.Abs(r.Rewards[id].Pct-want) > 1e-12 {
			t.Errorf("Pool share for %s = %v, want %v", id, r.Rewards[id].Pct, want)
		}
	}
}

func TestRankZipcode_EmptyPoolDiscarded(t *testing.T) {
	// Three winners and nobody else: no participation rewards exist.
	subs := []Submission{
		sub("miner-a", 1*time.Minute, 100),
		sub("miner-b", 2*time.Minute, 100),
		sub("miner-c", 3*time.Minute, 100),
	}
	r := RankZipcode(context.Background(), "90210", 100, subs, passAll)
	if len(r.Rewards) != 3 {
		t.Errorf("Expected rewards for winners only, got %d entries", len(r.Rewards))
	}
	var total float64
	for _, reward := range r.Rewards {
		total += reward.Pct
	}
	if math.Abs(total-0.95) > 1e-12 {
		t.Errorf("Winner shares sum to %v, want 0.95 with the pool discarded", total)
	}
}

func TestRankZipcode_NoSubmissions(t *testing.T) {
	r := RankZipcode(context.Background(), "90210", 100, nil, passAll)
	if len(r.Winners) != 0 || len(r.Participants) != 0 || len(r.Rewards) != 0 {
		t.Errorf("Empty zipcode produced rankings: %+v", r)
	}
	if r.TotalListingsFound != 0 {
		t.Errorf("TotalListingsFound = %d, want 0", r.TotalListingsFound)
	}
}

func TestRankZipcode_Tier3RunsInSubmissionOrder(t *testing.T) {
	var order []string
	recorder := func(ctx context.Context, listings []models.Listing, minerID string, at time.Time) *models.Tier3Result {
		order = append(order, minerID)
		return &models.Tier3Result{Passes: true}
	}
	subs := []Submission{
		sub("miner-c", 30*time.Minute, 100),
		sub("miner-a", 10*time.Minute, 100),
		sub("miner-b", 20*time.Minute, 100),
	}
	RankZipcode(context.Background(), "90210", 100, subs, recorder)

	want := []string{"miner-a", "miner-b", "miner-c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Tier-3 walk order = %v, want %v", order, want)
		}
	}
}
