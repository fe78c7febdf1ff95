package validator

import (
	"context"
	"log"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parcelworks/zipnet-engine/internal/consensus"
	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/internal/db"
	"github.com/parcelworks/zipnet-engine/internal/scoring"
	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/internal/storage"
	"github.com/parcelworks/zipnet-engine/internal/validation"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Exclusion reasons recorded in the validation report. Unavailable is an
// infrastructure verdict, not a tier failure.
const (
	ExcludedLateUpload  = "late_upload"
	ExcludedUnavailable = "unavailable"
	ExcludedHoneypot    = "honeypot"
)

// storageRetries bounds the exponential backoff on snapshot reads.
const storageRetries = 4

// WeightSetter publishes the epoch scores on-chain. External; idempotent per
// epoch on the caller side via the published latch in Postgres.
type WeightSetter interface {
	SetWeights(ctx context.Context, epochID string, scores map[string]float64, consensusHash string) error
}

// LogWeightSetter is the default sink when no chain integration is wired.
type LogWeightSetter struct{}

func (LogWeightSetter) SetWeights(ctx context.Context, epochID string, scores map[string]float64, consensusHash string) error {
	log.Printf("[Weights] Epoch %s: %d miner scores, hash %s", epochID, len(scores), consensusHash)
	return nil
}

// ZipcodeReport is the per-zipcode diagnostics section of the validation
// report artifact.
type ZipcodeReport struct {
	Zipcode   string                             `json:"zipcode"`
	Tiers     []models.TierResult                `json:"tiers"`
	Anomalies map[string]validation.AnomalyScan  `json:"anomalies,omitempty"`
	Ranking   models.ZipcodeRanking              `json:"ranking"`
}

// ValidationReport is written to storage alongside the consensus hash.
type ValidationReport struct {
	EpochID     string            `json:"epochId"`
	ValidatorID string            `json:"validatorId"`
	RunID       string            `json:"runId"`
	Excluded    map[string]string `json:"excluded"` // minerID → reason
	Zipcodes    []ZipcodeReport   `json:"zipcodes"`
	Outcome     string            `json:"outcome,omitempty"`
}

// Runner executes the full validation pipeline for one epoch over a storage
// snapshot: tier checks, competitive ranking, weight aggregation, consensus
// hashing, peer comparison, and publication.
type Runner struct {
	ValidatorID string
	Store       storage.Store
	Scraper     scraper.Scraper
	DB          *db.PostgresStore // optional
	Weights     WeightSetter
	OnConsensus func(models.ConsensusReport) // optional broadcast hook
	OnHoneypot  func(epochID, minerID string)

	ZipcodeWorkers    int
	SubmissionWorkers int
}

func NewRunner(validatorID string, store storage.Store, sc scraper.Scraper, dbStore *db.PostgresStore) *Runner {
	return &Runner{
		ValidatorID:       validatorID,
		Store:             store,
		Scraper:           sc,
		DB:                dbStore,
		Weights:           LogWeightSetter{},
		ZipcodeWorkers:    runtime.NumCPU(),
		SubmissionWorkers: runtime.NumCPU() * 4,
	}
}

// ValidateEpoch runs the pipeline and returns the aggregated result and the
// consensus verdict. The caller bounds ctx to the validation budget; on
// deadline the epoch is reported as a consensus failure with no weights
// published.
func (r *Runner) ValidateEpoch(ctx context.Context, epoch *models.Epoch) (*models.EpochResult, *models.ConsensusReport, error) {
	report := &ValidationReport{
		EpochID:     epoch.EpochID,
		ValidatorID: r.ValidatorID,
		RunID:       uuid.NewString(),
		Excluded:    map[string]string{},
	}

	submissions := r.loadSubmissions(ctx, epoch, report)

	rankings, zipReports := r.validateZipcodes(ctx, epoch, submissions)
	report.Zipcodes = zipReports

	if ctx.Err() != nil {
		// Budget exhausted mid-validation: partial work is discarded and the
		// epoch is flagged, mirroring a failed consensus.
		report.Outcome = models.ConsensusFailed
		failed := &models.ConsensusReport{EpochID: epoch.EpochID, Outcome: models.ConsensusFailed, Outliers: []string{}}
		return nil, failed, models.ErrConsensusFailed
	}

	result := scoring.AggregateEpoch(epoch.EpochID, rankings)
	hash := consensus.Hash(&result)

	if err := r.Store.PutValidatorArtifacts(r.ValidatorID, epoch.EpochID, &result, hash, report); err != nil {
		return nil, nil, err
	}
	if r.DB != nil {
		if err := r.DB.SaveEpochResult(ctx, r.ValidatorID, &result, hash); err != nil {
			log.Printf("[Validator %s] Failed to persist epoch result: %v", r.ValidatorID, err)
		}
	}

	peerHashes, err := r.Store.PeerHashes(epoch.EpochID)
	if err != nil {
		return &result, nil, err
	}
	verdict := consensus.Compare(epoch.EpochID, peerHashes)
	report.Outcome = verdict.Outcome
	if r.OnConsensus != nil {
		r.OnConsensus(verdict)
	}

	r.finalize(ctx, epoch, &result, &verdict, report, hash)
	return &result, &verdict, nil
}

// loadSubmissions reads every miner prefix from the snapshot. Late uploads
// (committed after end_at plus grace) and persistently unavailable
// submissions are excluded; honeypot hits void the miner's entire epoch.
func (r *Runner) loadSubmissions(ctx context.Context, epoch *models.Epoch, report *ValidationReport) []*models.MinerSubmission {
	miners, err := withRetry(ctx, storageRetries, func() ([]string, error) {
		return r.Store.ListMiners(epoch.EpochID)
	})
	if err != nil {
		log.Printf("[Validator %s] Miner listing failed after retries: %v", r.ValidatorID, err)
		return nil
	}

	cutoff := epoch.EndAt.Add(coordinator.StatusGrace)
	honeypots := epoch.HoneypotSet()

	var submissions []*models.MinerSubmission
	for _, minerID := range miners {
		sub, err := withRetry(ctx, storageRetries, func() (*models.MinerSubmission, error) {
			return r.Store.LoadSubmission(minerID, epoch.EpochID)
		})
		if err != nil {
			report.Excluded[minerID] = ExcludedUnavailable
			log.Printf("[Validator %s] Submission unavailable for %s: %v", r.ValidatorID, minerID, err)
			continue
		}
		if sub.SubmittedAt.After(cutoff) {
			report.Excluded[minerID] = ExcludedLateUpload
			continue
		}
		if validation.CheckHoneypot(sub, honeypots) {
			report.Excluded[minerID] = ExcludedHoneypot
			if r.OnHoneypot != nil {
				r.OnHoneypot(epoch.EpochID, minerID)
			}
			continue
		}
		submissions = append(submissions, sub)
	}
	return submissions
}

// validateZipcodes runs tiers 1 and 2 per (zipcode, miner) in bounded worker pools,
// then ranks each zipcode with the spot-check walk. Results land in slots indexed by
// assignment order, so the output is independent of completion order.
func (r *Runner) validateZipcodes(ctx context.Context, epoch *models.Epoch, submissions []*models.MinerSubmission) ([]models.ZipcodeRanking, []ZipcodeReport) {
	assignments := make([]models.ZipcodeAssignment, 0, len(epoch.Zipcodes))
	for _, a := range epoch.Zipcodes {
		if !a.IsHoneypot {
			assignments = append(assignments, a)
		}
	}

	cache := validation.NewVerifyCache(epoch.EpochID)
	slots := make([]zipcodeWork, len(assignments))

	var outer errgroup.Group
	outer.SetLimit(r.ZipcodeWorkers)
	for i, assignment := range assignments {
		i, assignment := i, assignment
		outer.Go(func() error {
			slots[i] = r.validateZipcode(ctx, epoch, assignment, submissions, cache)
			return nil
		})
	}
	_ = outer.Wait()

	rankings := make([]models.ZipcodeRanking, len(slots))
	reports := make([]ZipcodeReport, len(slots))
	for i, w := range slots {
		rankings[i] = w.ranking
		reports[i] = w.report
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Zipcode < reports[j].Zipcode })
	return rankings, reports
}

// zipcodeWork pairs one zipcode's ranking with its report section.
type zipcodeWork struct {
	ranking models.ZipcodeRanking
	report  ZipcodeReport
}

func (r *Runner) validateZipcode(ctx context.Context, epoch *models.Epoch, assignment models.ZipcodeAssignment, submissions []*models.MinerSubmission, cache *validation.VerifyCache) (w zipcodeWork) {
	zipcode := assignment.Zipcode
	w.report = ZipcodeReport{Zipcode: zipcode, Anomalies: map[string]validation.AnomalyScan{}}

	// Cross-miner duplication feeds every miner's tier-2 duplicate rate.
	byMiner := make(map[string][]models.Listing)
	var entrants []*models.MinerSubmission
	for _, sub := range submissions {
		if listings := sub.ListingsByZipcode[zipcode]; len(listings) > 0 {
			byMiner[sub.MinerID] = listings
			entrants = append(entrants, sub)
		}
	}
	sharedCounts := validation.CrossMinerDuplicates(byMiner)

	type tierWork struct {
		tiers    models.TierResult
		scan     *validation.AnomalyScan
		survivor *scoring.Submission
	}
	results := make([]tierWork, len(entrants))

	var pool errgroup.Group
	pool.SetLimit(r.SubmissionWorkers)
	for i, sub := range entrants {
		i, sub := i, sub
		pool.Go(func() error {
			listings := sub.ListingsByZipcode[zipcode]
			tiers := models.TierResult{MinerID: sub.MinerID, Zipcode: zipcode}

			tiers.Tier1 = validation.RunTier1(listings, assignment.ExpectedListings, sub.SubmittedAt)
			if !tiers.Tier1.Passes {
				// Short-circuit: no quality or spot checks on a quantity failure.
				results[i] = tierWork{tiers: tiers}
				return nil
			}

			scan := validation.ScanForAnomalies(listings)
			tiers.Tier2 = validation.RunTier2(listings, zipcode, epoch.StartAt, epoch.EndAt, sharedCounts[sub.MinerID])
			if scan.IsSynthetic {
				tiers.Tier2.Passes = false
			}
			if !tiers.Tier2.Passes {
				results[i] = tierWork{tiers: tiers, scan: &scan}
				return nil
			}

			results[i] = tierWork{
				tiers: tiers,
				scan:  &scan,
				survivor: &scoring.Submission{
					MinerID:     sub.MinerID,
					SubmittedAt: sub.SubmittedAt,
					Listings:    listings,
					Tier1:       tiers.Tier1,
					Tier2:       tiers.Tier2,
				},
			}
			return nil
		})
	}
	_ = pool.Wait()

	var survivors []scoring.Submission
	for i := range results {
		w.report.Tiers = append(w.report.Tiers, results[i].tiers)
		if results[i].scan != nil {
			w.report.Anomalies[results[i].tiers.MinerID] = *results[i].scan
		}
		if results[i].survivor != nil {
			survivors = append(survivors, *results[i].survivor)
		}
	}

	checker := &validation.Tier3Checker{Nonce: epoch.Nonce, Scraper: r.Scraper, Cache: cache}
	w.ranking = scoring.RankZipcode(ctx, zipcode, assignment.ExpectedListings, survivors, checker.Run)
	w.report.Ranking = w.ranking

	// Fold the tier-3 outcomes from the walk back into the tier diagnostics.
	for _, winner := range w.ranking.Winners {
		for t := range w.report.Tiers {
			if w.report.Tiers[t].MinerID == winner.MinerID && winner.TierResults != nil {
				w.report.Tiers[t].Tier3 = winner.TierResults.Tier3
			}
		}
	}
	return w
}

// finalize is the single mutation point for cross-epoch state: consensus
// outcome, outlier log, credibility, and the idempotent weight publication.
func (r *Runner) finalize(ctx context.Context, epoch *models.Epoch, result *models.EpochResult, verdict *models.ConsensusReport, report *ValidationReport, hash string) {
	if r.DB != nil {
		if err := r.DB.SaveConsensusReport(ctx, verdict); err != nil {
			log.Printf("[Validator %s] Failed to persist consensus report: %v", r.ValidatorID, err)
		}
		for minerID, reason := range report.Excluded {
			if reason == ExcludedHoneypot {
				if err := r.DB.AdjustMinerCredibility(ctx, minerID, -0.25, true); err != nil {
					log.Printf("[Validator %s] Credibility update failed for %s: %v", r.ValidatorID, minerID, err)
				}
			}
		}
		if err := r.DB.UpdateEpochStatus(ctx, epoch.EpochID, models.EpochValidated); err != nil {
			log.Printf("[Validator %s] Epoch status update failed: %v", r.ValidatorID, err)
		}
	}

	if verdict.Outcome == models.ConsensusFailed {
		log.Printf("[Validator %s] Epoch %s: consensus failed, suppressing weight publication", r.ValidatorID, epoch.EpochID)
		return
	}

	if r.DB != nil {
		fresh, err := r.DB.MarkWeightsPublished(ctx, epoch.EpochID)
		if err != nil {
			log.Printf("[Validator %s] Publication latch failed: %v", r.ValidatorID, err)
			return
		}
		if !fresh {
			return // already published for this epoch
		}
	}
	if err := r.Weights.SetWeights(ctx, epoch.EpochID, result.MinerScores, hash); err != nil {
		log.Printf("[Validator %s] Weight publication failed: %v", r.ValidatorID, err)
		return
	}
	if r.DB != nil {
		if err := r.DB.UpdateEpochStatus(ctx, epoch.EpochID, models.EpochFinalized); err != nil {
			log.Printf("[Validator %s] Finalization status update failed: %v", r.ValidatorID, err)
		}
	}
}

// withRetry retries a snapshot read with exponential backoff starting at
// 500ms. Reads that still fail after the attempt cap mark the miner
// unavailable rather than failing the epoch.
func withRetry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	delay := 500 * time.Millisecond
	for i := 0; i < attempts; i++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, err
}
