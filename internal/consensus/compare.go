package consensus

import (
	"sort"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// MajorityThreshold is the share of validators that must agree on the modal
// hash to salvage a non-unanimous epoch.
const MajorityThreshold = 0.90

// Compare classifies the peer hash set gathered from validator storage
// uploads. Ties on the modal hash break bytewise so the verdict is identical
// on every validator.
func Compare(epochID string, hashes map[string]string) models.ConsensusReport {
	report := models.ConsensusReport{
		EpochID:  epochID,
		Hashes:   hashes,
		Outliers: []string{},
	}
	if len(hashes) == 0 {
		report.Outcome = models.ConsensusFailed
		return report
	}

	counts := make(map[string]int)
	for _, h := range hashes {
		counts[h]++
	}

	candidates := make([]string, 0, len(counts))
	for h := range counts {
		candidates = append(candidates, h)
	}
	sort.Strings(candidates)

	modal := candidates[0]
	for _, h := range candidates[1:] {
		if counts[h] > counts[modal] {
			modal = h
		}
	}
	report.ModalHash = modal
	report.Agreement = float64(counts[modal]) / float64(len(hashes))

	validators := make([]string, 0, len(hashes))
	for v := range hashes {
		validators = append(validators, v)
	}
	sort.Strings(validators)
	for _, v := range validators {
		if hashes[v] != modal {
			report.Outliers = append(report.Outliers, v)
		}
	}

	switch {
	case len(counts) == 1:
		report.Outcome = models.PerfectConsensus
	case report.Agreement >= MajorityThreshold:
		report.Outcome = models.MajorityConsensus
	default:
		report.Outcome = models.ConsensusFailed
	}
	return report
}
