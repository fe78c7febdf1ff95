package models

import "time"

// Epoch statuses. Transitions: pending → active → closed → validated → finalized,
// with aborted reachable from pending/active when metadata cannot be published.
const (
	EpochPending   = "pending"
	EpochActive    = "active"
	EpochClosed    = "closed"
	EpochValidated = "validated"
	EpochFinalized = "finalized"
	EpochAborted   = "aborted"
)

// Market tiers for zipcode assignments
const (
	TierPremium  = "premium"
	TierStandard = "standard"
	TierEmerging = "emerging"
)

// EpochDuration is the fixed assignment window. Epochs align to the UTC grid
// (00:00, 04:00, 08:00, ...).
const EpochDuration = 4 * time.Hour

// ZipcodeAssignment is one zipcode slot inside an epoch.
type ZipcodeAssignment struct {
	Zipcode          string `json:"zipcode"`            // 5-digit string
	ExpectedListings int    `json:"expectedListings"`   // Pool estimate for this zipcode
	IsHoneypot       bool   `json:"isHoneypot"`         // Never serialized toward miners
	MarketTier       string `json:"marketTier"`         // premium/standard/emerging
}

// Epoch is the frozen assignment record for one 4-hour window. Immutable once
// the coordinator transitions it to active.
type Epoch struct {
	EpochID         string              `json:"epochId"`         // RFC3339 UTC of the start boundary
	StartAt         time.Time           `json:"startAt"`         // Inclusive
	EndAt           time.Time           `json:"endAt"`           // Exclusive
	Status          string              `json:"status"`          //
	TargetListings  int                 `json:"targetListings"`  // Default 10000
	TolerancePct    float64             `json:"tolerancePct"`    // Default 0.10
	Nonce           []byte              `json:"nonce"`           // 32 random bytes, fixed at creation
	Zipcodes        []ZipcodeAssignment `json:"zipcodes"`        // Ordered
}

// HoneypotSet returns the set of honeypot zipcodes in this epoch.
func (e *Epoch) HoneypotSet() map[string]bool {
	set := make(map[string]bool)
	for _, z := range e.Zipcodes {
		if z.IsHoneypot {
			set[z.Zipcode] = true
		}
	}
	return set
}

// EpochIDFor returns the canonical epoch id for the 4-hour boundary containing t.
func EpochIDFor(t time.Time) string {
	return t.UTC().Truncate(EpochDuration).Format(time.RFC3339)
}

// MinerSubmission is one miner's sealed upload for an epoch, as reconstructed
// by a validator from the storage snapshot. SubmittedAt is the storage-layer
// commit time, never the miner's self-report.
type MinerSubmission struct {
	MinerID           string               `json:"minerId"`
	EpochID           string               `json:"epochId"`
	SubmittedAt       time.Time            `json:"submittedAt"`
	ListingsByZipcode map[string][]Listing `json:"listingsByZipcode"`
}

// Tier1Result records the quantity and timeliness check.
type Tier1Result struct {
	Passes        bool      `json:"passes"`
	ActualCount   int       `json:"actualCount"`
	ExpectedMin   int       `json:"expectedMin"`
	ExpectedMax   int       `json:"expectedMax"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Tier2Result records the quality ratios. Each ratio is over the submitted
// listing count for the zipcode.
type Tier2Result struct {
	Passes            bool    `json:"passes"`
	FieldCompleteness float64 `json:"fieldCompleteness"` // ≥ 0.90 to pass
	ReasonableValues  float64 `json:"reasonableValues"`  // ≥ 0.95 to pass
	DataConsistency   float64 `json:"dataConsistency"`   // ≥ 0.90 to pass
	DuplicateRate     float64 `json:"duplicateRate"`     // ≤ 0.05 to pass
}

// Tier3Result records the deterministic spot-check.
type Tier3Result struct {
	Passes          bool   `json:"passes"`
	PassRate        float64 `json:"passRate"`        // verified / selected
	SelectedIndices []int  `json:"selectedIndices"`  // Into the uri-sorted listing slice
	Seed            uint64 `json:"seed"`             // Nonce-derived spot-check seed
}

// TierResult bundles the three validation layers for one (miner, zipcode).
type TierResult struct {
	MinerID string       `json:"minerId"`
	Zipcode string       `json:"zipcode"`
	Tier1   *Tier1Result `json:"tier1,omitempty"`
	Tier2   *Tier2Result `json:"tier2,omitempty"`
	Tier3   *Tier3Result `json:"tier3,omitempty"`
}

// OverallPasses is true only when every executed tier passed. A tier skipped
// by short-circuiting counts as a failure.
func (t *TierResult) OverallPasses() bool {
	return t.Tier1 != nil && t.Tier1.Passes &&
		t.Tier2 != nil && t.Tier2.Passes &&
		t.Tier3 != nil && t.Tier3.Passes
}

// Winner is a top-3 ranked miner for one zipcode.
type Winner struct {
	MinerID      string      `json:"minerId"`
	SubmittedAt  time.Time   `json:"submittedAt"`
	ListingCount int         `json:"listingCount"`
	Rank         int         `json:"rank"` // 1, 2, or 3
	TierResults  *TierResult `json:"tierResults,omitempty"`
}

// Participant is a miner that passed tiers 1 and 2 but did not win a top-3
// rank, either because it failed the spot-check or because three faster
// miners passed first.
type Participant struct {
	MinerID      string `json:"minerId"`
	ListingCount int    `json:"listingCount"`
	FailedAt     string `json:"failedAt,omitempty"` // "tier3" when demoted by the spot-check
}

// Reward is a miner's slice of one zipcode's reward distribution.
type Reward struct {
	Rank  int     `json:"rank"`  // 0 for participation-pool members
	Pct   float64 `json:"pct"`   // Fraction of the zipcode reward
	Count int     `json:"count"` // Listings credited
}

// ZipcodeRanking is the competitive outcome for one zipcode.
type ZipcodeRanking struct {
	Zipcode           string            `json:"zipcode"`
	ExpectedListings  int               `json:"expectedListings"`
	Winners           []Winner          `json:"winners"`           // ≤ 3, rank order
	Participants      []Participant     `json:"participants"`      //
	Rewards           map[string]Reward `json:"rewards"`           // minerId → slice
	TotalListingsFound int              `json:"totalListingsFound"` // Sum over winners
}

// EpochResult is the aggregated outcome for an epoch and the sole input to the
// consensus hash. Write-once: published only after full construction.
type EpochResult struct {
	EpochID            string             `json:"epochId"`
	MinerScores        map[string]float64 `json:"minerScores"`        // Normalized, sums to 1.0 when non-empty
	ZipcodeWeights     map[string]float64 `json:"zipcodeWeights"`     // Sums to 1.0 when listings exist
	TotalEpochListings int                `json:"totalEpochListings"` // Present even when zero
	TotalParticipants  int                `json:"totalParticipants"`
	TotalWinners       int                `json:"totalWinners"`
}

// Consensus outcomes across the validator set.
const (
	PerfectConsensus  = "perfect"
	MajorityConsensus = "majority"
	ConsensusFailed   = "failed"
)

// ConsensusReport is the result of comparing peer validator hashes.
type ConsensusReport struct {
	EpochID    string            `json:"epochId"`
	Outcome    string            `json:"outcome"`
	ModalHash  string            `json:"modalHash"`
	Hashes     map[string]string `json:"hashes"`   // validatorId → hex hash
	Outliers   []string          `json:"outliers"` // Validators off the modal hash
	Agreement  float64           `json:"agreement"` // Share of validators on the modal hash
}
