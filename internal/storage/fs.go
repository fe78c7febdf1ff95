package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// FSStore implements Store on a local or mounted filesystem. Commit time is
// the mtime of the last metadata.json a miner wrote for the epoch, truncated
// to whole seconds so every reader canonicalizes it identically.
type FSStore struct {
	Root string // e.g. /var/lib/zipnet/data
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return &FSStore{Root: root}, nil
}

func (s *FSStore) minerDir(minerID, epochID string) string {
	return filepath.Join(s.Root, "miners", minerID, "epoch="+epochID)
}

func (s *FSStore) zipcodeDir(minerID, epochID, zipcode string) string {
	return filepath.Join(s.minerDir(minerID, epochID), "zipcode="+zipcode)
}

func (s *FSStore) validatorDir(validatorID, epochID string) string {
	return filepath.Join(s.Root, "validators", validatorID, "epoch="+epochID)
}

// PutZipcodeListings writes listings.parquet first, then metadata.json. The
// metadata write is the sealing commit for the zipcode.
func (s *FSStore) PutZipcodeListings(minerID, epochID, zipcode string, listings []models.Listing) error {
	dir := s.zipcodeDir(minerID, epochID, zipcode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if err := parquet.WriteFile(filepath.Join(dir, "listings.parquet"), listings); err != nil {
		return fmt.Errorf("write listings.parquet: %w", err)
	}

	meta := Metadata{
		SubmittedAtUTC: time.Now().UTC().Format(time.RFC3339),
		ListingCount:   len(listings),
		MinerID:        minerID,
		EpochID:        epochID,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), raw, 0o644)
}

// ListMiners returns sorted miner ids with uploads under the epoch.
func (s *FSStore) ListMiners(epochID string) ([]string, error) {
	minersRoot := filepath.Join(s.Root, "miners")
	entries, err := os.ReadDir(minersRoot)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	var miners []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.minerDir(e.Name(), epochID)); err == nil {
			miners = append(miners, e.Name())
		}
	}
	sort.Strings(miners)
	return miners, nil
}

// LoadSubmission reads every zipcode prefix of the miner's epoch upload and
// derives the authoritative submission time from commit metadata.
func (s *FSStore) LoadSubmission(minerID, epochID string) (*models.MinerSubmission, error) {
	dir := s.minerDir(minerID, epochID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	sub := &models.MinerSubmission{
		MinerID:           minerID,
		EpochID:           epochID,
		ListingsByZipcode: make(map[string][]models.Listing),
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "zipcode=") {
			continue
		}
		zipcode := strings.TrimPrefix(e.Name(), "zipcode=")

		// Unsealed uploads (no metadata.json yet) are invisible to validators.
		if _, err := os.Stat(filepath.Join(dir, e.Name(), "metadata.json")); err != nil {
			continue
		}

		listings, err := parquet.ReadFile[models.Listing](filepath.Join(dir, e.Name(), "listings.parquet"))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", models.ErrSchemaInvalid, e.Name(), err)
		}
		sub.ListingsByZipcode[zipcode] = listings
	}

	commitAt, err := s.CommitTime(minerID, epochID)
	if err != nil {
		return nil, err
	}
	sub.SubmittedAt = commitAt
	return sub, nil
}

// CommitTime is the mtime of the miner's last-committed metadata.json for the
// epoch, seconds precision UTC.
func (s *FSStore) CommitTime(minerID, epochID string) (time.Time, error) {
	dir := s.minerDir(minerID, epochID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	var latest time.Time
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "zipcode=") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		if mt := info.ModTime().UTC(); mt.After(latest) {
			latest = mt
		}
	}
	if latest.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no sealed objects for %s/%s", models.ErrStorageUnavailable, minerID, epochID)
	}
	return latest.Truncate(time.Second), nil
}

// PutValidatorArtifacts writes the three validator outputs for the epoch.
func (s *FSStore) PutValidatorArtifacts(validatorID, epochID string, result *models.EpochResult, consensusHash string, report any) error {
	dir := s.validatorDir(validatorID, epochID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	resultRaw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "epoch_result.json"), resultRaw, 0o644); err != nil {
		return err
	}

	reportRaw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "validation_report.json"), reportRaw, 0o644); err != nil {
		return err
	}

	// The hash commits last: peers only gossip fully published results.
	return os.WriteFile(filepath.Join(dir, "consensus_hash.txt"), []byte(consensusHash+"\n"), 0o644)
}

// PeerHashes reads consensus_hash.txt from every validator prefix.
func (s *FSStore) PeerHashes(epochID string) (map[string]string, error) {
	validatorsRoot := filepath.Join(s.Root, "validators")
	entries, err := os.ReadDir(validatorsRoot)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	hashes := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.validatorDir(e.Name(), epochID), "consensus_hash.txt"))
		if err != nil {
			continue
		}
		hashes[e.Name()] = strings.TrimSpace(string(raw))
	}
	return hashes, nil
}
