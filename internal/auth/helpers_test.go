package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

var testKeys = storage.Keys{Namespace: "test:"}

// fakeBackend is an httptest server counting calls per path.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	requests map[string]*http.Request
	bodies   map[string]map[string]any
}

func newFakeBackend(t *testing.T, routes map[string]http.HandlerFunc) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{
		calls:    make(map[string]int),
		requests: make(map[string]*http.Request),
		bodies:   make(map[string]map[string]any),
	}

	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.calls[r.URL.Path]++
		fb.requests[r.URL.Path] = r.Clone(r.Context())

		if r.Header.Get("Content-Type") == "application/json" {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var body map[string]any
			_ = json.Unmarshal(raw, &body)
			fb.bodies[r.URL.Path] = body
		}
		fb.mu.Unlock()

		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		h(w, r)
	}))
	t.Cleanup(fb.Close)

	return fb
}

func (fb *fakeBackend) count(path string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return fb.calls[path]
}

func (fb *fakeBackend) request(path string) *http.Request {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return fb.requests[path]
}

func (fb *fakeBackend) body(path string) map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return fb.bodies[path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testEnv(t *testing.T) Environment {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return Environment{
		Client:  &http.Client{Jar: jar, Timeout: 5 * time.Second},
		Storage: memory.New(),
		Keys:    testKeys,
	}
}

func signToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()

	claims := token.Claims{
		Username: "alice",
		Email:    "alice@example.com",
		Role:     RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return raw
}

var alice = map[string]any{
	"id":       1,
	"username": "alice",
	"email":    "alice@example.com",
	"role":     RoleUser,
	"groups":   []string{"staff"},
}
