package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────
// Signed-Envelope Authentication Middleware
//
// Every miner/validator request carries three headers:
//
//	X-Zipnet-Identity:  stable identity key
//	X-Zipnet-Timestamp: unix seconds
//	X-Zipnet-Signature: hex HMAC-SHA256 over method||path||bodySha256||timestamp
//
// Keys come from ZIPNET_KEYS ("identity:hexkey,identity:hexkey,..."). If the
// variable is unset all requests are allowed (dev mode).
// ──────────────────────────────────────────────────────────────────

// MaxTimestampSkew rejects replayed or badly clocked envelopes.
const MaxTimestampSkew = 5 * time.Minute

const (
	headerIdentity  = "X-Zipnet-Identity"
	headerTimestamp = "X-Zipnet-Timestamp"
	headerSignature = "X-Zipnet-Signature"
)

// identityKey is the gin context key holding the authenticated identity.
const identityKey = "zipnet_identity"

// EnvKeyStore parses ZIPNET_KEYS. Empty store = dev mode, auth disabled.
type EnvKeyStore struct {
	keys map[string][]byte
}

func NewEnvKeyStore() *EnvKeyStore {
	store := &EnvKeyStore{keys: make(map[string][]byte)}
	raw := os.Getenv("ZIPNET_KEYS")
	if raw == "" {
		if os.Getenv("GIN_MODE") == "release" {
			log.Println("[SECURITY WARNING] ZIPNET_KEYS is not set in release mode. " +
				"All coordinator endpoints accept unsigned requests. " +
				"Set ZIPNET_KEYS to enforce envelope signatures.")
		}
		return store
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, err := hex.DecodeString(parts[1])
		if err != nil {
			log.Printf("[Auth] Skipping malformed key for identity %s", parts[0])
			continue
		}
		store.keys[parts[0]] = key
	}
	return store
}

// Key resolves an identity to its shared HMAC key.
func (s *EnvKeyStore) Key(identity string) ([]byte, bool) {
	k, ok := s.keys[identity]
	return k, ok
}

func (s *EnvKeyStore) empty() bool { return len(s.keys) == 0 }

// SignEnvelope computes the envelope signature for a request. Shared with
// the miner-side HTTP client.
func SignEnvelope(key []byte, method, path string, body []byte, timestamp int64) string {
	bodySum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(hex.EncodeToString(bodySum[:])))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthMiddleware validates the signed envelope on protected routes.
func AuthMiddleware(store *EnvKeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Dev mode: no keys configured, trust the identity header as-is.
		if store.empty() {
			c.Set(identityKey, c.GetHeader(headerIdentity))
			c.Next()
			return
		}

		identity := c.GetHeader(headerIdentity)
		tsRaw := c.GetHeader(headerTimestamp)
		sig := c.GetHeader(headerSignature)
		if identity == "" || tsRaw == "" || sig == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing envelope headers",
				"hint":  "Send X-Zipnet-Identity, X-Zipnet-Timestamp, X-Zipnet-Signature",
			})
			c.Abort()
			return
		}

		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid timestamp"})
			c.Abort()
			return
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > MaxTimestampSkew {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Timestamp skew exceeds 5 minutes"})
			c.Abort()
			return
		}

		key, ok := store.Key(identity)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unknown identity"})
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(strings.NewReader(string(body)))

		expected := SignEnvelope(key, c.Request.Method, c.Request.URL.Path, body, ts)
		// Constant-time comparison to prevent timing-based signature probing.
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity returns the authenticated identity for the request.
func Identity(c *gin.Context) string {
	return c.GetString(identityKey)
}
