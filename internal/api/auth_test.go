package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func authTestRouter(store *EnvKeyStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/protected", AuthMiddleware(store), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"identity": Identity(c)})
	})
	return r
}

func keyStoreWith(identity string, key []byte) *EnvKeyStore {
	return &EnvKeyStore{keys: map[string][]byte{identity: key}}
}

func signedRequest(key []byte, identity, body string, ts int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader(body))
	req.Header.Set(headerIdentity, identity)
	req.Header.Set(headerTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(headerSignature, SignEnvelope(key, http.MethodPost, "/protected", []byte(body), ts))
	return req
}

func TestAuthMiddleware_ValidEnvelope(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	r := authTestRouter(keyStoreWith("miner-a", key))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(key, "miner-a", `{"epochId":"e"}`, time.Now().Unix()))

	if w.Code != http.StatusOK {
		t.Fatalf("Valid envelope rejected: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "miner-a") {
		t.Errorf("Identity not propagated: %s", w.Body.String())
	}
}

func TestAuthMiddleware_MissingHeaders(t *testing.T) {
	r := authTestRouter(keyStoreWith("miner-a", []byte("key")))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Missing headers = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_TimestampSkew(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	r := authTestRouter(keyStoreWith("miner-a", key))

	stale := time.Now().Add(-6 * time.Minute).Unix()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(key, "miner-a", "{}", stale))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Stale timestamp = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_UnknownIdentity(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	r := authTestRouter(keyStoreWith("miner-a", key))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(key, "miner-z", "{}", time.Now().Unix()))

	if w.Code != http.StatusForbidden {
		t.Errorf("Unknown identity = %d, want 403", w.Code)
	}
}

func TestAuthMiddleware_TamperedBody(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	r := authTestRouter(keyStoreWith("miner-a", key))

	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader(`{"listingsScraped":9999}`))
	req.Header.Set(headerIdentity, "miner-a")
	req.Header.Set(headerTimestamp, fmt.Sprintf("%d", ts))
	// Signature computed over a different body.
	req.Header.Set(headerSignature, SignEnvelope(key, http.MethodPost, "/protected", []byte(`{"listingsScraped":10}`), ts))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Tampered body = %d, want 403", w.Code)
	}
}

func TestAuthMiddleware_WrongKey(t *testing.T) {
	r := authTestRouter(keyStoreWith("miner-a", []byte("the-real-key")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest([]byte("a-guessed-key"), "miner-a", "{}", time.Now().Unix()))

	if w.Code != http.StatusForbidden {
		t.Errorf("Wrong key = %d, want 403", w.Code)
	}
}

func TestAuthMiddleware_DevModePassthrough(t *testing.T) {
	r := authTestRouter(&EnvKeyStore{keys: map[string][]byte{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader("{}"))
	req.Header.Set(headerIdentity, "miner-dev")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Dev mode rejected an unsigned request: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "miner-dev") {
		t.Errorf("Dev mode dropped the identity header: %s", w.Body.String())
	}
}

func TestSignEnvelope_Deterministic(t *testing.T) {
	key := []byte("k")
	a := SignEnvelope(key, "GET", "/api/v1/assignments/current", nil, 1700000000)
	b := SignEnvelope(key, "GET", "/api/v1/assignments/current", nil, 1700000000)
	if a != b {
		t.Errorf("Signature not deterministic")
	}
	if _, err := hex.DecodeString(a); err != nil || len(a) != 64 {
		t.Errorf("Signature %q is not 64 hex chars", a)
	}
	if SignEnvelope(key, "POST", "/api/v1/assignments/current", nil, 1700000000) == a {
		t.Errorf("Method not bound into the signature")
	}
}
