package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/mocks"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

var testKeys = storage.Keys{Namespace: "test:"} //nolint:gochecknoglobals

func alice() *auth.User {
	return &auth.User{ID: "1", Username: "alice", Email: "alice@example.com", Role: auth.RoleUser, IsActive: true}
}

func newProvider(ctrl *gomock.Controller, t auth.ProviderType) *mocks.MockProvider {
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().Type().Return(t).AnyTimes()

	return p
}

func newTestManager(t *testing.T, st storage.Observable, p auth.Provider, opts ...func(*Options)) *Manager {
	t.Helper()

	reg := auth.NewRegistry(
		[]auth.ProviderConfig{{Type: p.Type(), Name: "test", Enabled: true}},
		p.Type(),
		func(auth.ProviderConfig) (auth.Provider, error) { return p, nil },
	)

	o := Options{Registry: reg, Storage: st, Keys: testKeys}
	for _, fn := range opts {
		fn(&o)
	}

	m, err := New(o)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close() })

	return m
}

// loggedIn logs alice in through p.
func loggedIn(t *testing.T, m *Manager, p *mocks.MockProvider, res auth.Result) {
	t.Helper()

	if res.User == nil {
		res.User = alice()
	}

	res.Success = true

	p.EXPECT().Login(gomock.Any(), gomock.Any()).Return(res)

	out := m.Login(t.Context(), auth.Credentials{Username: "alice", Password: "s3cret"})
	require.True(t, out.Success, out.Message)
}

func signed(t *testing.T, ttl time.Duration) string {
	t.Helper()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return raw
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(m *Manager) *recorder {
	r := &recorder{}
	m.OnAuthChange(func(evt Event) {
		r.mu.Lock()
		r.events = append(r.events, evt)
		r.mu.Unlock()
	})

	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

func (r *recorder) count(typ EventType) int {
	n := 0

	for _, evt := range r.all() {
		if evt.Type == typ {
			n++
		}
	}

	return n
}

// countingStorage counts writes made through one handle.
type countingStorage struct {
	storage.Observable
	writes atomic.Int32
}

func (c *countingStorage) Set(ctx context.Context, key string, value []byte) error {
	c.writes.Add(1)
	return c.Observable.Set(ctx, key, value)
}

func (c *countingStorage) Delete(ctx context.Context, key string) error {
	c.writes.Add(1)
	return c.Observable.Delete(ctx, key)
}
