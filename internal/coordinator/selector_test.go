package coordinator

import (
	mrand "math/rand"
	"testing"
	"time"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

func testPool(n, perZipcode int) []PoolEntry {
	pool := make([]PoolEntry, n)
	for i := range pool {
		pool[i] = PoolEntry{
			Zipcode:          zipAt(i),
			ExpectedListings: perZipcode,
			MarketTier:       models.TierStandard,
		}
	}
	return pool
}

func zipAt(i int) string {
	return string([]byte{'1' + byte(i/1000%9), '0' + byte(i/100%10), '0' + byte(i/10%10), '0' + byte(i%10), '0'})
}

func testHoneypots(n int) []PoolEntry {
	pool := make([]PoolEntry, n)
	for i := range pool {
		pool[i] = PoolEntry{
			Zipcode:          string([]byte{'5', '9', '0' + byte(i/10%10), '0' + byte(i%10), '1'}),
			ExpectedListings: 50,
			MarketTier:       models.TierEmerging,
		}
	}
	return pool
}

var testBoundary = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildEpoch_SumInsideTargetBand(t *testing.T) {
	rng := mrand.New(mrand.NewSource(1))
	epoch, err := BuildEpoch(testBoundary, testPool(100, 150), testHoneypots(10), nil, DefaultSelectorConfig(), rng)
	if err != nil {
		t.Fatalf("BuildEpoch: %v", err)
	}

	sum := 0
	for _, z := range epoch.Zipcodes {
		if !z.IsHoneypot {
			sum += z.ExpectedListings
		}
	}
	if sum < 9000 || sum > 11000 {
		t.Errorf("Expected-listing sum %d outside [9000,11000]", sum)
	}
}

func TestBuildEpoch_FrozenRecordShape(t *testing.T) {
	rng := mrand.New(mrand.NewSource(2))
	at := testBoundary.Add(17 * time.Minute) // mid-window start still snaps to the grid
	epoch, err := BuildEpoch(at, testPool(100, 150), testHoneypots(10), nil, DefaultSelectorConfig(), rng)
	if err != nil {
		t.Fatalf("BuildEpoch: %v", err)
	}

	if epoch.EpochID != "2026-03-01T12:00:00Z" {
		t.Errorf("EpochID = %s, want the RFC3339 grid boundary", epoch.EpochID)
	}
	if !epoch.StartAt.Equal(testBoundary) || !epoch.EndAt.Equal(testBoundary.Add(4*time.Hour)) {
		t.Errorf("Window [%v,%v) not aligned to the 4-hour grid", epoch.StartAt, epoch.EndAt)
	}
	if epoch.Status != models.EpochActive {
		t.Errorf("Status = %s, want active", epoch.Status)
	}
	if len(epoch.Nonce) != 32 {
		t.Errorf("Nonce length = %d, want 32", len(epoch.Nonce))
	}
}

func TestBuildEpoch_NoncesAreUnique(t *testing.T) {
	rng := mrand.New(mrand.NewSource(3))
	a, err := BuildEpoch(testBoundary, testPool(100, 150), nil, nil, DefaultSelectorConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildEpoch(testBoundary, testPool(100, 150), nil, nil, DefaultSelectorConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Nonce) == string(b.Nonce) {
		t.Errorf("Two epochs drew the same 32-byte nonce")
	}
}

func TestBuildEpoch_CooldownExcluded(t *testing.T) {
	pool := testPool(100, 150)
	cooldown := map[string]bool{}
	for _, e := range pool[:20] {
		cooldown[e.Zipcode] = true
	}

	rng := mrand.New(mrand.NewSource(4))
	epoch, err := BuildEpoch(testBoundary, pool, testHoneypots(10), cooldown, DefaultSelectorConfig(), rng)
	if err != nil {
		t.Fatalf("BuildEpoch: %v", err)
	}
	for _, z := range epoch.Zipcodes {
		if cooldown[z.Zipcode] {
			t.Errorf("Cooldown zipcode %s reassigned in the next epoch", z.Zipcode)
		}
	}
}

func TestBuildEpoch_HoneypotFraction(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		rng := mrand.New(mrand.NewSource(seed))
		epoch, err := BuildEpoch(testBoundary, testPool(120, 150), testHoneypots(20), nil, DefaultSelectorConfig(), rng)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}

		ordinary, honeypots := 0, 0
		for _, z := range epoch.Zipcodes {
			if z.IsHoneypot {
				honeypots++
			} else {
				ordinary++
			}
		}
		if honeypots < 1 {
			t.Errorf("seed %d: no honeypot slots", seed)
		}
		// 5–10% of the ordinary count, with the minimum forced to 1.
		upper := ordinary / 10
		if upper < 1 {
			upper = 1
		}
		if honeypots > upper {
			t.Errorf("seed %d: %d honeypots for %d ordinary slots exceeds 10%%", seed, honeypots, ordinary)
		}
	}
}

func TestBuildEpoch_ExhaustedPool(t *testing.T) {
	pool := testPool(10, 150)
	cooldown := map[string]bool{}
	for _, e := range pool {
		cooldown[e.Zipcode] = true
	}
	rng := mrand.New(mrand.NewSource(5))
	if _, err := BuildEpoch(testBoundary, pool, nil, cooldown, DefaultSelectorConfig(), rng); err == nil {
		t.Errorf("Fully cooled-down pool built an epoch")
	}
}

func TestBuildEpoch_UnreachableTarget(t *testing.T) {
	// 10 zipcodes × 150 listings tops out at 1500, far below the 9000 floor.
	rng := mrand.New(mrand.NewSource(6))
	if _, err := BuildEpoch(testBoundary, testPool(10, 150), nil, nil, DefaultSelectorConfig(), rng); err == nil {
		t.Errorf("Undersized pool built an epoch inside the target band")
	}
}

func TestDefaultPools_Embedded(t *testing.T) {
	eligible, honeypots, err := DefaultPools()
	if err != nil {
		t.Fatalf("DefaultPools: %v", err)
	}
	if len(eligible) == 0 {
		t.Fatal("Embedded eligible pool is empty")
	}
	if len(honeypots) == 0 {
		t.Fatal("Embedded honeypot pool is empty")
	}

	sum := 0
	seen := map[string]bool{}
	for _, e := range eligible {
		if len(e.Zipcode) != 5 {
			t.Errorf("Malformed zipcode %q in embedded pool", e.Zipcode)
		}
		if seen[e.Zipcode] {
			t.Errorf("Duplicate zipcode %s in embedded pool", e.Zipcode)
		}
		seen[e.Zipcode] = true
		sum += e.ExpectedListings
	}
	// The embedded pool must be able to reach the default target band.
	if sum < 9000 {
		t.Errorf("Embedded pool sums to %d expected listings, below the 9000 floor", sum)
	}
	for _, h := range honeypots {
		if seen[h.Zipcode] {
			t.Errorf("Honeypot %s also present in the eligible pool", h.Zipcode)
		}
	}
}
