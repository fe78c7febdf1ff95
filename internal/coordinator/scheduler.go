package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/db"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// StatusGrace is how long after end_at the coordinator still accepts miner
// status reports. Uploads committed to storage after this window are ignored
// by validators.
const StatusGrace = 5 * time.Minute

// Broadcaster pushes epoch events to subscribed clients. Satisfied by the
// websocket hub.
type Broadcaster interface {
	Broadcast(data []byte)
}

// MinerAssignment is the miner-facing view of the current epoch. Honeypot
// flags never leave the coordinator: honeypot slots are indistinguishable
// from ordinary assignments here.
type MinerAssignment struct {
	EpochID  string           `json:"epochId"`
	EndAt    time.Time        `json:"endAt"`
	Nonce    string           `json:"nonce"` // base64
	Zipcodes []MinerZipcode   `json:"zipcodes"`
}

// MinerZipcode is one assignment slot as miners see it.
type MinerZipcode struct {
	Zipcode          string `json:"zipcode"`
	ExpectedListings int    `json:"expectedListings"`
	MarketTier       string `json:"marketTier"`
}

// StatusReport is a miner's progress/completion report.
type StatusReport struct {
	EpochID         string `json:"epochId"`
	ListingsScraped int    `json:"listingsScraped"`
	UploadComplete  bool   `json:"uploadComplete"`
	Status          string `json:"status"` // in_progress/completed/failed
}

// Coordinator owns the epoch lifecycle: selection, activation on the 4-hour
// UTC grid, status tracking, and metadata reads for validators.
type Coordinator struct {
	dbStore *db.PostgresStore
	hub     Broadcaster
	cfg     SelectorConfig
	rng     *mrand.Rand
	now     func() time.Time

	mu      sync.RWMutex
	current *models.Epoch
}

func New(dbStore *db.PostgresStore, hub Broadcaster, cfg SelectorConfig, seed int64) *Coordinator {
	return &Coordinator{
		dbStore: dbStore,
		hub:     hub,
		cfg:     cfg,
		rng:     mrand.New(mrand.NewSource(seed)),
		now:     time.Now,
	}
}

// Run drives the epoch lifecycle on the UTC grid: close the expiring epoch,
// build and activate the next one, repeat. Starts immediately with the
// current window if no epoch is active.
func (c *Coordinator) Run(ctx context.Context) {
	log.Println("[Coordinator] Starting epoch scheduler on 4-hour UTC grid...")

	if err := c.rotate(ctx); err != nil {
		log.Printf("[Coordinator] Initial epoch activation failed: %v", err)
	}

	for {
		next := c.now().UTC().Truncate(models.EpochDuration).Add(models.EpochDuration)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("[Coordinator] Stopping epoch scheduler...")
			return
		case <-timer.C:
			if err := c.rotate(ctx); err != nil {
				log.Printf("[Coordinator] Epoch rotation failed: %v", err)
			}
		}
	}
}

// rotate closes the previous epoch, builds the next assignment record, and
// activates it. If the record cannot be published the window is aborted and
// no scores will be emitted for it.
func (c *Coordinator) rotate(ctx context.Context) error {
	boundary := c.now().UTC().Truncate(models.EpochDuration)

	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev != nil && !prev.EndAt.After(boundary) {
		if err := c.dbStore.UpdateEpochStatus(ctx, prev.EpochID, models.EpochClosed); err != nil {
			log.Printf("[Coordinator] Failed to close epoch %s: %v", prev.EpochID, err)
		} else {
			log.Printf("[Coordinator] Epoch %s closed", prev.EpochID)
		}
	}

	eligible, honeypots := c.loadPools(ctx)

	cooldown, err := c.dbStore.PreviousEpochZipcodes(ctx, boundary)
	if err != nil {
		log.Printf("[Coordinator] Cooldown lookup failed, proceeding without: %v", err)
		cooldown = map[string]bool{}
	}

	epoch, err := BuildEpoch(boundary, eligible, honeypots, cooldown, c.cfg, c.rng)
	if err != nil {
		return err
	}

	if err := c.dbStore.SaveEpoch(ctx, epoch); err != nil {
		// Metadata could not be published: the window is aborted.
		epoch.Status = models.EpochAborted
		_ = c.dbStore.SaveEpoch(ctx, epoch)
		return err
	}

	c.mu.Lock()
	c.current = epoch
	c.mu.Unlock()

	log.Printf("[Coordinator] Epoch %s active: %d zipcodes, target %d listings",
		epoch.EpochID, len(epoch.Zipcodes), epoch.TargetListings)

	if c.hub != nil {
		payload, _ := json.Marshal(map[string]any{
			"type":     "epoch_active",
			"epochId":  epoch.EpochID,
			"endAt":    epoch.EndAt,
			"zipcodes": len(epoch.Zipcodes),
		})
		c.hub.Broadcast(payload)
	}
	return nil
}

func (c *Coordinator) loadPools(ctx context.Context) ([]PoolEntry, []PoolEntry) {
	if c.dbStore != nil {
		dbEligible, dbHoneypots, err := c.dbStore.LoadZipcodePools(ctx)
		if err == nil && len(dbEligible) > 0 {
			return toPoolEntries(dbEligible), toPoolEntries(dbHoneypots)
		}
		if err != nil {
			log.Printf("[Coordinator] Curated pool load failed, using embedded pool: %v", err)
		}
	}
	eligible, honeypots, err := DefaultPools()
	if err != nil {
		log.Printf("[Coordinator] FATAL embedded pool decode: %v", err)
		return nil, nil
	}
	return eligible, honeypots
}

func toPoolEntries(rows []db.PoolRow) []PoolEntry {
	entries := make([]PoolEntry, len(rows))
	for i, r := range rows {
		entries[i] = PoolEntry{Zipcode: r.Zipcode, ExpectedListings: r.ExpectedListings, MarketTier: r.MarketTier}
	}
	return entries
}

// CurrentAssignment returns the active epoch's assignments for a miner, with
// honeypot flags stripped. Fails with ErrAssignmentNotReady outside an
// active window.
func (c *Coordinator) CurrentAssignment(minerID string) (*MinerAssignment, error) {
	c.mu.RLock()
	epoch := c.current
	c.mu.RUnlock()

	now := c.now().UTC()
	if epoch == nil || epoch.Status != models.EpochActive || now.Before(epoch.StartAt) || !now.Before(epoch.EndAt) {
		return nil, models.ErrAssignmentNotReady
	}

	zipcodes := make([]MinerZipcode, len(epoch.Zipcodes))
	for i, z := range epoch.Zipcodes {
		zipcodes[i] = MinerZipcode{
			Zipcode:          z.Zipcode,
			ExpectedListings: z.ExpectedListings,
			MarketTier:       z.MarketTier,
		}
	}
	return &MinerAssignment{
		EpochID:  epoch.EpochID,
		EndAt:    epoch.EndAt,
		Nonce:    base64.StdEncoding.EncodeToString(epoch.Nonce),
		Zipcodes: zipcodes,
	}, nil
}

// UpdateStatus records a miner's progress report. Idempotent; rejects with
// ErrEpochClosed once end_at plus grace has passed.
func (c *Coordinator) UpdateStatus(ctx context.Context, minerID string, report StatusReport) error {
	epoch, err := c.EpochMetadata(ctx, report.EpochID)
	if err != nil {
		return err
	}
	if c.now().UTC().After(epoch.EndAt.Add(StatusGrace)) {
		return models.ErrEpochClosed
	}
	return c.dbStore.UpsertSubmissionStatus(ctx, report.EpochID, minerID,
		report.ListingsScraped, report.UploadComplete, report.Status)
}

// EpochMetadata is the validator-facing read: the full frozen record,
// honeypot flags and nonce included.
func (c *Coordinator) EpochMetadata(ctx context.Context, epochID string) (*models.Epoch, error) {
	c.mu.RLock()
	if c.current != nil && c.current.EpochID == epochID {
		epoch := c.current
		c.mu.RUnlock()
		return epoch, nil
	}
	c.mu.RUnlock()
	return c.dbStore.GetEpoch(ctx, epochID)
}
