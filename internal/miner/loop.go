package miner

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/internal/storage"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// UploadBudget is reserved at the end of the window so a full scrape still
// has time to commit its objects before end_at.
const UploadBudget = 20 * time.Minute

// Loop is the miner mining loop: poll for the current assignment, scrape
// each zipcode, normalize, upload, report status.
type Loop struct {
	client   *Client
	scrape   scraper.Scraper
	store    storage.Store
	poll     time.Duration
	minedIDs map[string]bool // epochs already mined this process
}

func NewLoop(client *Client, sc scraper.Scraper, store storage.Store) *Loop {
	return &Loop{
		client:   client,
		scrape:   sc,
		store:    store,
		poll:     30 * time.Second,
		minedIDs: make(map[string]bool),
	}
}

// Run polls the coordinator until the context is cancelled. Assignment-not-
// ready responses back off exponentially up to five minutes.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("[Miner %s] Starting mining loop...", l.client.MinerID)

	backoff := l.poll
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Miner %s] Stopping mining loop...", l.client.MinerID)
			return
		case <-time.After(backoff):
		}

		assignment, err := l.client.CurrentAssignment(ctx)
		if errors.Is(err, models.ErrAssignmentNotReady) {
			backoff = min(backoff*2, 5*time.Minute)
			continue
		}
		if err != nil {
			log.Printf("[Miner %s] Assignment poll failed: %v", l.client.MinerID, err)
			backoff = min(backoff*2, 5*time.Minute)
			continue
		}
		backoff = l.poll

		if l.minedIDs[assignment.EpochID] {
			continue
		}
		l.minedIDs[assignment.EpochID] = true
		l.mineEpoch(ctx, assignment)
	}
}

// mineEpoch works through one epoch's zipcodes. If the window closes
// mid-scrape, whatever was already scraped is still uploaded; the
// coordinator rejects the late status report but validators simply ignore
// objects committed after end_at plus grace.
func (l *Loop) mineEpoch(ctx context.Context, assignment *coordinator.MinerAssignment) {
	deadline := assignment.EndAt.Add(-UploadBudget)
	log.Printf("[Miner %s] Epoch %s: %d zipcodes, scrape deadline %s",
		l.client.MinerID, assignment.EpochID, len(assignment.Zipcodes), deadline.Format(time.RFC3339))

	totalScraped := 0
	failed := false
	for _, z := range assignment.Zipcodes {
		select {
		case <-ctx.Done():
			return
		default:
		}

		scrapeCtx, cancel := context.WithDeadline(ctx, deadline)
		listings, err := l.scrape.Scrape(scrapeCtx, z.Zipcode, z.ExpectedListings, deadline)
		cancel()
		if err != nil && len(listings) == 0 {
			log.Printf("[Miner %s] Scrape failed for %s: %v", l.client.MinerID, z.Zipcode, err)
			failed = true
			continue
		}

		normalized := Normalize(listings, z.Zipcode)
		if len(normalized) == 0 {
			continue
		}

		if err := l.store.PutZipcodeListings(l.client.MinerID, assignment.EpochID, z.Zipcode, normalized); err != nil {
			log.Printf("[Miner %s] Upload failed for %s: %v", l.client.MinerID, z.Zipcode, err)
			failed = true
			continue
		}
		totalScraped += len(normalized)

		l.report(ctx, assignment.EpochID, totalScraped, false, "in_progress")
	}

	status := "completed"
	if failed {
		status = "failed"
	}
	l.report(ctx, assignment.EpochID, totalScraped, true, status)
	log.Printf("[Miner %s] Epoch %s done: %d listings uploaded (%s)",
		l.client.MinerID, assignment.EpochID, totalScraped, status)
}

func (l *Loop) report(ctx context.Context, epochID string, scraped int, complete bool, status string) {
	err := l.client.ReportStatus(ctx, coordinator.StatusReport{
		EpochID:         epochID,
		ListingsScraped: scraped,
		UploadComplete:  complete,
		Status:          status,
	})
	if errors.Is(err, models.ErrEpochClosed) {
		log.Printf("[Miner %s] Epoch %s closed before final report", l.client.MinerID, epochID)
	} else if err != nil {
		log.Printf("[Miner %s] Status report failed: %v", l.client.MinerID, err)
	}
}

// Normalize enforces the canonical schema on scraper output: listings whose
// zipcode disagrees with the assignment are dropped, as are records missing
// required fields.
func Normalize(listings []models.Listing, zipcode string) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for i := range listings {
		l := listings[i]
		if l.Zipcode != zipcode {
			continue
		}
		if !l.HasRequiredFields() {
			continue
		}
		out = append(out, l)
	}
	return out
}
