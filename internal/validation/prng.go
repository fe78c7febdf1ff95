package validation

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
	"time"
)

// All spot-check randomness flows through SplitMix64 seeded from the epoch
// nonce. The algorithm is frozen: every validator must run this exact stream
// or the consensus hash diverges.

// splitmix64 is the SplitMix64 generator (Steele, Lea, Flood 2014).
type splitmix64 struct {
	state uint64
}

func newSplitMix64(seed uint64) *splitmix64 {
	return &splitmix64{state: seed}
}

func (s *splitmix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// CanonicalTime renders a timestamp the one way the protocol allows inside
// hashed material: RFC3339 UTC, whole seconds.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// SpotCheckSeed derives the tier-3 seed:
// SHA-256(nonce || minerID || canonical(submittedAt) || decimal(listingCount)),
// truncated to the first 8 bytes big-endian.
func SpotCheckSeed(nonce []byte, minerID string, submittedAt time.Time, listingCount int) uint64 {
	h := sha256.New()
	h.Write(nonce)
	h.Write([]byte(minerID))
	h.Write([]byte(CanonicalTime(submittedAt)))
	h.Write([]byte(strconv.Itoa(listingCount)))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// SpotCheckCount is k = clamp(ceil(0.10·n), 3, 10), capped at n.
func SpotCheckCount(n int) int {
	k := int(math.Ceil(0.10 * float64(n)))
	if k < 3 {
		k = 3
	}
	if k > 10 {
		k = 10
	}
	if k > n {
		k = n
	}
	return k
}

// SelectIndices returns the k spot-check indices into the uri-sorted listing
// slice: a Fisher–Yates shuffle of [0, n) driven by SplitMix64, taking the
// first k slots, returned in ascending order.
func SelectIndices(seed uint64, n, k int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	rng := newSplitMix64(seed)
	for i := n - 1; i >= 1; i-- {
		j := int(rng.next() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	if k > n {
		k = n
	}
	selected := perm[:k]
	// Ascending order keeps the recorded indices canonical.
	for i := 1; i < len(selected); i++ {
		for j := i; j > 0 && selected[j] < selected[j-1]; j-- {
			selected[j], selected[j-1] = selected[j-1], selected[j]
		}
	}
	return selected
}
