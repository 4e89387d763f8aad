package daemon

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/devbackend"
	"github.com/GoPowerDNS-Admin/authsession/internal/logger"
	"github.com/GoPowerDNS-Admin/authsession/internal/session"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
)

const devCookie = "authsession_dev"

// backend starts a development backend and returns its base url.
func backend(t *testing.T) string {
	t.Helper()

	s, err := devbackend.New(config.DevBackend{
		Secret:     "daemon-test-secret",
		TokenTTL:   15 * time.Minute,
		RefreshTTL: time.Hour,
		CookieName: devCookie,
		Users: []config.DevUser{
			{ID: "1", Username: "admin", Password: "admin", Role: auth.RoleAdmin, Groups: []string{"Domain Admins"}},
			{ID: "2", Username: "bob", Password: "bob", Role: auth.RoleReadonly},
		},
	}, nil, logger.Log{})
	require.NoError(t, err)

	srv := httptest.NewServer(adaptor.FiberApp(s.App))
	t.Cleanup(srv.Close)

	return srv.URL
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Storage: config.Storage{Driver: DriverMemory, Namespace: "test:", Table: config.DefaultTable},
		Auth: config.Auth{
			PreferredProvider: string(auth.ProviderJWT),
			BaseURL:           baseURL,
			RefreshThreshold:  time.Minute,
			SessionCookie:     auth.SessionCookieConfig{CookieName: devCookie},
			JWT:               auth.JWTConfig{Enabled: true},
			LDAP:              auth.LDAPConfig{Enabled: true},
		},
	}
}

func newDaemon(t *testing.T, cfg *config.Config, opts Options) *Daemon {
	t.Helper()

	d, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	require.ErrorIs(t, err, ErrConfigNil)
}

func TestNewWiresProviders(t *testing.T) {
	d := newDaemon(t, testConfig("http://127.0.0.1:1"), Options{})

	assert.Equal(t, auth.ProviderJWT, d.Registry.Current())

	var types []auth.ProviderType
	for _, p := range d.Manager.AvailableProviders() {
		types = append(types, p.Type)
	}

	assert.Equal(t, []auth.ProviderType{auth.ProviderSessionCookie, auth.ProviderLDAP, auth.ProviderJWT}, types)
	assert.True(t, d.Manager.SetProvider(auth.ProviderLDAP))
	assert.False(t, d.Manager.SetProvider(auth.ProviderSAML))
}

func TestUnknownStorageDriver(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Driver = "floppy"

	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
}

func TestJWTSession(t *testing.T) {
	ctx := context.Background()
	d := newDaemon(t, testConfig(backend(t)), Options{})

	_, err := d.Manager.Initialize(ctx)
	require.NoError(t, err)
	assert.False(t, d.Manager.AuthState().IsAuthenticated())

	res := d.Manager.Login(ctx, auth.Credentials{Username: "bob", Password: "wrong"})
	require.False(t, res.Success)
	assert.Equal(t, auth.KindCredential, auth.Kind(res.Err))

	res = d.Manager.Login(ctx, auth.Credentials{Username: "bob", Password: "bob"})
	require.True(t, res.Success, res.Message)

	st := d.Manager.AuthState()
	require.True(t, st.IsAuthenticated())
	assert.Equal(t, "bob", st.User.Username)
	assert.Equal(t, auth.ProviderJWT, st.Provider)

	assert.True(t, d.Manager.HasPermission(auth.PermDemandasView))
	assert.False(t, d.Manager.HasPermission(auth.PermSistemaAdmin))
	assert.True(t, d.Manager.CanAccess("relatorios", "view"))
	assert.Greater(t, d.Manager.SessionTimeRemaining(), 10*time.Minute)

	headers := d.Manager.AuthHeaders(ctx)
	assert.Equal(t, "Bearer "+st.Session.Token, headers["Authorization"])

	res = d.Manager.RefreshToken(ctx)
	require.True(t, res.Success, res.Message)
	assert.NotEqual(t, st.Session.RefreshToken, d.Manager.AuthState().Session.RefreshToken)

	res = d.Manager.Logout(ctx)
	assert.True(t, res.Success)
	assert.False(t, d.Manager.AuthState().IsAuthenticated())
	assert.Equal(t, session.Unauthenticated, d.Manager.State())
}

func TestSessionCookie(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(backend(t))
	cfg.Auth.PreferredProvider = string(auth.ProviderSessionCookie)

	d := newDaemon(t, cfg, Options{})

	res := d.Manager.Login(ctx, auth.Credentials{Username: "admin", Password: "admin"})
	require.True(t, res.Success, res.Message)
	assert.True(t, d.Manager.HasPermission(auth.PermSistemaAdmin))
	assert.True(t, d.Manager.VisibilityRegained(ctx))

	headers := d.Manager.AuthHeaders(ctx)
	assert.NotContains(t, headers, "Authorization")

	d.Manager.Logout(ctx)
	assert.False(t, d.Manager.AuthState().IsAuthenticated())
}

func TestSharedStorageTabs(t *testing.T) {
	ctx := context.Background()
	url := backend(t)
	hub := storage.NewHub(memory.New())

	first := newDaemon(t, testConfig(url), Options{Storage: hub.Tab()})
	second := newDaemon(t, testConfig(url), Options{Storage: hub.Tab()})

	_, err := second.Manager.Initialize(ctx)
	require.NoError(t, err)

	res := first.Manager.Login(ctx, auth.Credentials{Username: "bob", Password: "bob"})
	require.True(t, res.Success, res.Message)

	require.Eventually(t, func() bool {
		return second.Manager.AuthState().IsAuthenticated()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", second.Manager.CurrentUser().Username)

	first.Manager.Logout(ctx)

	require.Eventually(t, func() bool {
		return !second.Manager.AuthState().IsAuthenticated()
	}, time.Second, 10*time.Millisecond)
}

func TestSQLiteStorageRestoresSession(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(backend(t))
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sessions.db")

	d, err := New(ctx, cfg, Options{})
	require.NoError(t, err)

	res := d.Manager.Login(ctx, auth.Credentials{Username: "bob", Password: "bob"})
	require.True(t, res.Success, res.Message)
	require.NoError(t, d.Close())

	restored := newDaemon(t, cfg, Options{})

	st, err := restored.Manager.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, st.IsAuthenticated())
	assert.Equal(t, "bob", st.User.Username)
}

func TestPolicyFromDB(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Auth.PolicyFromDB = true
	cfg.Auth.GroupRoles = []auth.GroupRole{{Group: "Domain Admins", Role: auth.RoleAdmin}}
	cfg.DB = config.DB{GormEngine: config.EngineSQLite, Name: filepath.Join(t.TempDir(), "policy.db")}

	d := newDaemon(t, cfg, Options{})

	roles, groupRoles, err := d.policy()
	require.NoError(t, err)
	assert.ElementsMatch(t, auth.DefaultRoleTable()[auth.RoleReadonly], roles[auth.RoleReadonly])
	require.Len(t, groupRoles, 1)
	assert.Equal(t, auth.RoleAdmin, groupRoles[0].Role)
}
