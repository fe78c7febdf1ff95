package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// stubScraper verifies listings by uri lookup. Unknown uris do not exist.
type stubScraper struct {
	verified map[string]bool
	failWith error
	calls    int
}

func (s *stubScraper) Scrape(ctx context.Context, zipcode string, targetCount int, deadline time.Time) ([]models.Listing, error) {
	return nil, nil
}

func (s *stubScraper) Verify(ctx context.Context, l models.Listing) (scraper.VerifyResult, error) {
	s.calls++
	if s.failWith != nil {
		return scraper.VerifyResult{}, s.failWith
	}
	if !s.verified[l.URI] {
		return scraper.VerifyResult{Exists: false}, nil
	}
	return scraper.VerifyResult{
		Exists: true,
		MatchedFields: map[string]bool{
			"address": true, "price": true, "bedrooms": true, "bathrooms": true, "zipcode": true,
		},
	}, nil
}

func allVerified(listings []models.Listing) map[string]bool {
	m := make(map[string]bool, len(listings))
	for _, l := range listings {
		m[l.URI] = true
	}
	return m
}

func tier3Fixture(t *testing.T, stub *stubScraper) (*Tier3Checker, []models.Listing, time.Time) {
	t.Helper()
	listings := cleanListings(50)
	checker := &Tier3Checker{
		Nonce:   []byte{0x10, 0x20, 0x30},
		Scraper: stub,
		Cache:   NewVerifyCache("2026-03-01T12:00:00Z"),
	}
	return checker, listings, time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
}

func TestTier3_AllVerifiedPasses(t *testing.T) {
	stub := &stubScraper{}
	checker, listings, at := tier3Fixture(t, stub)
	stub.verified = allVerified(listings)

	res := checker.Run(context.Background(), listings, "miner-a", at)
	if !res.Passes {
		t.Fatalf("Fully verified submission failed: %+v", res)
	}
	if res.PassRate != 1.0 {
		t.Errorf("PassRate = %v, want 1.0", res.PassRate)
	}
	if len(res.SelectedIndices) != SpotCheckCount(len(listings)) {
		t.Errorf("Selected %d indices, want %d", len(res.SelectedIndices), SpotCheckCount(len(listings)))
	}
}

func TestTier3_DeterministicAcrossRuns(t *testing.T) {
	stub := &stubScraper{}
	checker, listings, at := tier3Fixture(t, stub)
	stub.verified = allVerified(listings)

	first := checker.Run(context.Background(), listings, "miner-a", at)

	// A second checker with a fresh cache must select the same indices from
	// the same (nonce, miner, time, count) inputs.
	other := &Tier3Checker{Nonce: checker.Nonce, Scraper: stub, Cache: NewVerifyCache("x")}
	second := other.Run(context.Background(), listings, "miner-a", at)

	if first.Seed != second.Seed {
		t.Fatalf("Seeds diverged: %d vs %d", first.Seed, second.Seed)
	}
	if len(first.SelectedIndices) != len(second.SelectedIndices) {
		t.Fatalf("Index counts diverged")
	}
	for i := range first.SelectedIndices {
		if first.SelectedIndices[i] != second.SelectedIndices[i] {
			t.Fatalf("Selected indices diverged at %d: %v vs %v", i, first.SelectedIndices, second.SelectedIndices)
		}
	}
}

func TestTier3_SelectionIgnoresInputOrder(t *testing.T) {
	stub := &stubScraper{}
	checker, listings, at := tier3Fixture(t, stub)
	stub.verified = allVerified(listings)

	first := checker.Run(context.Background(), listings, "miner-a", at)

	// Reversed input: uri sorting inside Run canonicalizes the order.
	reversed := make([]models.Listing, len(listings))
	for i := range listings {
		reversed[i] = listings[len(listings)-1-i]
	}
	second := checker.Run(context.Background(), reversed, "miner-a", at)

	for i := range first.SelectedIndices {
		if first.SelectedIndices[i] != second.SelectedIndices[i] {
			t.Fatalf("Input order changed the selection: %v vs %v", first.SelectedIndices, second.SelectedIndices)
		}
	}
}

func TestTier3_FailsBelowPassRate(t *testing.T) {
	stub := &stubScraper{verified: map[string]bool{}}
	checker, listings, at := tier3Fixture(t, stub)

	res := checker.Run(context.Background(), listings, "miner-a", at)
	if res.Passes {
		t.Fatalf("Zero verified listings passed the spot-check")
	}
	if res.PassRate != 0 {
		t.Errorf("PassRate = %v, want 0", res.PassRate)
	}
}

func TestTier3_EmptySubmissionFails(t *testing.T) {
	stub := &stubScraper{}
	checker, _, at := tier3Fixture(t, stub)
	res := checker.Run(context.Background(), nil, "miner-a", at)
	if res.Passes {
		t.Errorf("Empty submission passed tier 3")
	}
}

func TestTier3_CacheIsMonotonic(t *testing.T) {
	stub := &stubScraper{}
	checker, listings, at := tier3Fixture(t, stub)
	stub.verified = allVerified(listings)

	first := checker.Run(context.Background(), listings, "miner-a", at)
	if !first.Passes {
		t.Fatalf("Setup run failed: %+v", first)
	}
	callsAfterFirst := stub.calls

	// The upstream source now denies everything, but cached verdicts hold.
	stub.verified = map[string]bool{}
	second := checker.Run(context.Background(), listings, "miner-a", at)
	if !second.Passes {
		t.Errorf("Cached verifications were not reused: %+v", second)
	}
	if stub.calls != callsAfterFirst {
		t.Errorf("Expected no new scraper calls on the cached re-run, got %d extra", stub.calls-callsAfterFirst)
	}
}

func TestTier3_ErrorsAreNotCached(t *testing.T) {
	stub := &stubScraper{failWith: errors.New("fetch timeout")}
	checker, listings, at := tier3Fixture(t, stub)

	res := checker.Run(context.Background(), listings, "miner-a", at)
	if res.Passes {
		t.Fatalf("Submission passed despite scraper failures")
	}
	if checker.Cache.Len() != 0 {
		t.Errorf("Transport faults were cached: %d entries", checker.Cache.Len())
	}

	// After the fault clears, the same uris verify successfully.
	stub.failWith = nil
	stub.verified = allVerified(listings)
	res = checker.Run(context.Background(), listings, "miner-a", at)
	if !res.Passes {
		t.Errorf("Re-run after fault recovery failed: %+v", res)
	}
}
