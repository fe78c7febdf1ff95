package storage

import (
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Object storage layout:
//
//	data/
//	  miners/{miner_id}/epoch={epoch_id}/zipcode={zipcode}/
//	    listings.parquet
//	    metadata.json
//	  validators/{validator_id}/epoch={epoch_id}/
//	    epoch_result.json
//	    consensus_hash.txt
//	    validation_report.json
//
// The submittedAtUtc inside metadata.json is advisory only. The submission
// time used for ranking is the storage-layer commit time of the final object,
// which every validator re-derives from storage metadata.

// Metadata is the advisory sidecar committed after listings.parquet.
type Metadata struct {
	SubmittedAtUTC string `json:"submittedAtUtc"`
	ListingCount   int    `json:"listingCount"`
	MinerID        string `json:"minerId"`
	EpochID        string `json:"epochId"`
}

// Store is the vendor-neutral view of the object store. Writers are the
// miners and validators; validation reads a store as an immutable snapshot
// and never mutates it.
type Store interface {
	// PutZipcodeListings commits listings.parquet then metadata.json for one
	// (miner, epoch, zipcode). The metadata commit seals the zipcode upload.
	PutZipcodeListings(minerID, epochID, zipcode string, listings []models.Listing) error

	// ListMiners returns the miner ids with any upload under the epoch.
	ListMiners(epochID string) ([]string, error)

	// LoadSubmission reconstructs a miner's sealed submission. SubmittedAt is
	// the commit time of the miner's final object for the epoch.
	LoadSubmission(minerID, epochID string) (*models.MinerSubmission, error)

	// CommitTime reports the storage-layer commit time of the miner's final
	// object for the epoch.
	CommitTime(minerID, epochID string) (time.Time, error)

	// PutValidatorArtifacts commits epoch_result.json, consensus_hash.txt and
	// validation_report.json for one validator.
	PutValidatorArtifacts(validatorID, epochID string, result *models.EpochResult, consensusHash string, report any) error

	// PeerHashes assembles validatorId → consensus hash from every validator
	// prefix under the epoch. This is the coordinator-independent gossip.
	PeerHashes(epochID string) (map[string]string, error)
}
