package scoring

import (
	"context"
	"sort"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Reward split per winning rank, plus the participation pool.
var winnerPcts = [3]float64{0.55, 0.30, 0.10}

// ParticipationPool is split equally across spot-check failers and valid
// submissions beyond rank 3. Empty pool → the 5% is discarded.
const ParticipationPool = 0.05

// Submission is one miner's zipcode entry surviving tiers 1 and 2.
type Submission struct {
	MinerID     string
	SubmittedAt time.Time
	Listings    []models.Listing
	Tier1       *models.Tier1Result
	Tier2       *models.Tier2Result
}

// TierThreeFunc runs the deterministic spot-check for one submission.
type TierThreeFunc func(ctx context.Context, listings []models.Listing, minerID string, submittedAt time.Time) *models.Tier3Result

// RankZipcode orders the surviving submissions by (submittedAt, minerID) and
// walks them through tier 3. The first three passers win ranks 1–3; later
// passers and tier-3 failures fall into the participation pool. The ordering
// key is total: equal timestamps break on raw minerID bytes, so the ranking
// is a pure function of the inputs.
func RankZipcode(ctx context.Context, zipcode string, expected int, subs []Submission, tier3 TierThreeFunc) models.ZipcodeRanking {
	ranking := models.ZipcodeRanking{
		Zipcode:          zipcode,
		ExpectedListings: expected,
		Winners:          []models.Winner{},
		Participants:     []models.Participant{},
		Rewards:          map[string]models.Reward{},
	}

	ordered := make([]Submission, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool {
		ti, tj := ordered[i].SubmittedAt, ordered[j].SubmittedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ordered[i].MinerID < ordered[j].MinerID
	})

	for _, sub := range ordered {
		t3 := tier3(ctx, sub.Listings, sub.MinerID, sub.SubmittedAt)
		tiers := &models.TierResult{
			MinerID: sub.MinerID,
			Zipcode: zipcode,
			Tier1:   sub.Tier1,
			Tier2:   sub.Tier2,
			Tier3:   t3,
		}

		switch {
		case t3.Passes && len(ranking.Winners) < 3:
			rank := len(ranking.Winners) + 1
			ranking.Winners = append(ranking.Winners, models.Winner{
				MinerID:      sub.MinerID,
				SubmittedAt:  sub.SubmittedAt,
				ListingCount: len(sub.Listings),
				Rank:         rank,
				TierResults:  tiers,
			})
			ranking.TotalListingsFound += len(sub.Listings)
		case t3.Passes:
			// Valid but slower than the top three
			ranking.Participants = append(ranking.Participants, models.Participant{
				MinerID:      sub.MinerID,
				ListingCount: len(sub.Listings),
			})
		default:
			ranking.Participants = append(ranking.Participants, models.Participant{
				MinerID:      sub.MinerID,
				ListingCount: len(sub.Listings),
				FailedAt:     "tier3",
			})
		}
	}

	for _, w := range ranking.Winners {
		ranking.Rewards[w.MinerID] = models.Reward{
			Rank:  w.Rank,
			Pct:   winnerPcts[w.Rank-1],
			Count: w.ListingCount,
		}
	}
	if len(ranking.Participants) > 0 {
		share := ParticipationPool / float64(len(ranking.Participants))
		for _, p := range ranking.Participants {
			ranking.Rewards[p.MinerID] = models.Reward{
				Rank:  0,
				Pct:   share,
				Count: p.ListingCount,
			}
		}
	}

	return ranking
}
