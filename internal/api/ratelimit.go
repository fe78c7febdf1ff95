package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Per-Caller Token Bucket Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Requests are bucketed by the envelope identity when present, falling back
// to client IP for unsigned reads. When the bucket is empty the request
// receives HTTP 429 with a Retry-After header indicating when to try again.
//
// A background goroutine cleans up buckets idle for more than
// cleanupIdleDuration to prevent unbounded memory growth from transient
// callers.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type callerBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimiter holds per-caller state.
type RateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	mu      sync.Mutex
	buckets map[string]*callerBucket
}

// NewRateLimiter creates a rate limiter allowing `ratePerMin` requests per
// minute per caller, with a burst capacity of `burst` requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*callerBucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(caller string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[caller]
	if !ok {
		bucket = &callerBucket{tokens: rl.burst}
		rl.buckets[caller] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	// Refill tokens based on elapsed time since last request.
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	// Calculate how long until a token is available.
	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetHeader(headerIdentity)
		if caller == "" {
			caller = c.ClientIP()
		}
		allowed, retryAfter := rl.allow(caller)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale caller buckets every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for caller, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, caller)
			}
		}
		rl.mu.Unlock()
	}
}
