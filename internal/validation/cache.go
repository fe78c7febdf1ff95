package validation

import (
	"sync"

	"github.com/parcelworks/zipnet-engine/internal/scraper"
)

// VerifyCache memoizes tier-3 scraper verifications within one epoch, keyed
// by listing uri. Entries are monotonic: the first stored result for a uri is
// never overwritten, so re-running validation on the same snapshot repeats
// the same outcomes even if the upstream source has since changed.
type VerifyCache struct {
	mu      sync.Mutex
	epochID string
	entries map[string]scraper.VerifyResult
}

func NewVerifyCache(epochID string) *VerifyCache {
	return &VerifyCache{
		epochID: epochID,
		entries: make(map[string]scraper.VerifyResult),
	}
}

// Get returns the cached result for a uri, if present.
func (c *VerifyCache) Get(uri string) (scraper.VerifyResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[uri]
	return res, ok
}

// Put stores a result unless the uri already has one.
func (c *VerifyCache) Put(uri string, res scraper.VerifyResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[uri]; !exists {
		c.entries[uri] = res
	}
}

// Len reports the number of cached verifications.
func (c *VerifyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
