package devbackend

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/logger"
)

const (
	testCookie = "dev_session"
	totpSecret = "JBSWY3DPEHPK3PXP"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

func testConfig(t *testing.T) config.DevBackend {
	t.Helper()

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	return config.DevBackend{
		Secret:     "test-secret",
		TokenTTL:   15 * time.Minute,
		RefreshTTL: time.Hour,
		CookieName: testCookie,
		Users: []config.DevUser{
			{ID: "1", Username: "admin", Password: hash, Role: auth.RoleAdmin, Groups: []string{"Domain Admins"}},
			{ID: "2", Username: "alice", Password: "alice", TOTPSecret: totpSecret, Groups: []string{"Finance"}},
			{ID: "3", Username: "bob", Password: "bob", Role: auth.RoleReadonly, Email: "bob@example.com"},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *clock) {
	t.Helper()

	clk := &clock{t: time.Now()}

	s, err := newServer(testConfig(t), nil, logger.Log{}, clk.now)
	require.NoError(t, err)

	return s, clk
}

type call struct {
	method  string
	path    string
	json    any
	form    url.Values
	bearer  string
	cookie  string
	headers map[string]string
}

func do(t *testing.T, s *Server, c call) (*http.Response, []byte) {
	t.Helper()

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case c.form != nil:
		body = strings.NewReader(c.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case c.json != nil:
		raw, err := json.Marshal(c.json)
		require.NoError(t, err)

		body = strings.NewReader(string(raw))
		contentType = "application/json"
	}

	req := httptest.NewRequest(c.method, c.path, body)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: c.cookie})
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.App.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func decodeAuth(t *testing.T, raw []byte) authResponse {
	t.Helper()

	var out authResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))

	return out
}

// loginAs signs username in and returns the answer.
func loginAs(t *testing.T, s *Server, username, password string) authResponse {
	t.Helper()

	resp, raw := do(t, s, call{
		method: http.MethodPost,
		path:   auth.DefaultLoginPath,
		json:   loginRequest{Username: username, Password: password},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	return decodeAuth(t, raw)
}
