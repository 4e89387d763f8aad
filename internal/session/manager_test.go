package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/csrf"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoRegistry)

	_, err = New(Options{Registry: auth.NewRegistry(nil, "", nil)})
	require.ErrorIs(t, err, ErrNoStorage)
}

func TestLoginEveryProvider(t *testing.T) {
	for _, typ := range auth.ProviderTypes() {
		t.Run(typ.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			p := newProvider(ctrl, typ)

			m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)
			events := recordEvents(m)

			loggedIn(t, m, p, auth.Result{Token: "tok-" + typ.String()})

			st := m.AuthState()
			assert.True(t, st.IsAuthenticated())
			assert.Equal(t, Authenticated, st.State)
			assert.Equal(t, typ, st.Provider)
			require.NotNil(t, st.User)
			require.NotNil(t, st.Session)
			assert.Equal(t, "tok-"+typ.String(), st.Session.Token)
			assert.True(t, m.timersRunning())

			require.Len(t, events.all(), 1)
			assert.Equal(t, EventLogin, events.all()[0].Type)
			assert.False(t, events.all()[0].Remote)
		})
	}
}

func TestLoginOutcomes(t *testing.T) {
	testCases := []struct {
		name    string
		result  auth.Result
		success bool
		pending bool
		kind    auth.ErrorKind
	}{
		{
			name:    "redirect",
			result:  auth.Redirect("https://idp.example.com/authorize?state=x"),
			pending: true,
		},
		{
			name:   "bad credentials",
			result: auth.Failure(auth.ErrInvalidCredentials, "invalid credentials"),
			kind:   auth.KindCredential,
		},
		{
			name:   "backend down",
			result: auth.Failure(auth.ErrNetwork, "authentication service unavailable"),
			kind:   auth.KindNetwork,
		},
		{
			name:   "success without user",
			result: auth.Result{Success: true, Token: "tok"},
			kind:   auth.KindCredential,
		},
		{
			name:   "success without token",
			result: auth.Result{Success: true, User: alice()},
			kind:   auth.KindCredential,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			p := newProvider(ctrl, auth.ProviderOAuth2)

			st := memory.New()
			m := newTestManager(t, storage.NewHub(st).Tab(), p)
			events := recordEvents(m)

			p.EXPECT().Login(gomock.Any(), gomock.Any()).Return(tc.result)

			res := m.Login(context.Background(), auth.Credentials{})
			assert.Equal(t, tc.success, res.Success)
			assert.Equal(t, tc.pending, res.Pending())

			if !tc.pending {
				assert.Equal(t, tc.kind, auth.Kind(res.Err))
			}

			assert.Equal(t, Unauthenticated, m.State())
			assert.Nil(t, m.CurrentUser())
			assert.Empty(t, events.all())
			assert.Zero(t, st.Len())
			assert.False(t, m.timersRunning())
		})
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderJWT)

	st := memory.New()
	m := newTestManager(t, storage.NewHub(st).Tab(), p)
	events := recordEvents(m)

	loggedIn(t, m, p, auth.Result{Token: "tok", RefreshToken: "rt", CSRFToken: "csrf", SessionID: "sid"})

	ctx := context.Background()
	require.NoError(t, st.Set(ctx, testKeys.OAuth2State(), []byte(`{"state":"x"}`)))

	p.EXPECT().Logout(gomock.Any()).Return(auth.Failure(auth.ErrNetwork, "authentication service unavailable"))

	res := m.Logout(ctx)
	assert.True(t, res.Success, "logout is effective locally even when the backend fails")

	for _, key := range testKeys.All() {
		_, err := st.Get(ctx, key)
		require.ErrorIs(t, err, storage.ErrNotFound, key)
	}

	assert.Equal(t, 1, events.count(EventLogout))
	assert.Equal(t, Unauthenticated, m.State())
	assert.Nil(t, m.CurrentUser())
	assert.False(t, m.timersRunning())
	assert.Zero(t, m.SessionTimeRemaining())
}

func TestInitialize(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		p := newProvider(ctrl, auth.ProviderSessionCookie)
		p.EXPECT().Initialize(gomock.Any()).Return(auth.Result{Message: "not authenticated"})

		m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)

		st, err := m.Initialize(context.Background())
		require.NoError(t, err)
		assert.False(t, st.IsAuthenticated())
		assert.Equal(t, Unauthenticated, st.State)
		assert.Equal(t, auth.ProviderSessionCookie, st.Provider)
	})

	t.Run("backend session", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		p := newProvider(ctrl, auth.ProviderSessionCookie)
		p.EXPECT().Initialize(gomock.Any()).Return(auth.Result{Success: true, User: alice(), Token: "cookie", SessionID: "cookie"})

		m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)
		events := recordEvents(m)

		st, err := m.Initialize(context.Background())
		require.NoError(t, err)
		assert.True(t, st.IsAuthenticated())
		assert.Equal(t, 1, events.count(EventLogin))
		assert.Equal(t, DefaultSessionTTL, m.SessionTimeRemaining().Round(time.Hour))
	})

	t.Run("backend session without token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		p := newProvider(ctrl, auth.ProviderLDAP)
		p.EXPECT().Initialize(gomock.Any()).Return(auth.Result{Success: true, User: alice()})

		backend := memory.New()
		m := newTestManager(t, storage.NewHub(backend).Tab(), p)
		events := recordEvents(m)

		st, err := m.Initialize(context.Background())
		require.NoError(t, err)
		assert.False(t, st.IsAuthenticated())
		assert.Nil(t, m.CurrentUser())
		assert.Zero(t, backend.Len())
		assert.Empty(t, events.all())
	})

	t.Run("persisted session not confirmed", func(t *testing.T) {
		ctx := context.Background()
		backend := memory.New()
		hub := storage.NewHub(backend)

		require.NoError(t, NewStore(backend, testKeys).Set(ctx, alice(), auth.Session{Token: "stale", Provider: auth.ProviderJWT}))

		ctrl := gomock.NewController(t)
		p := newProvider(ctrl, auth.ProviderJWT)
		p.EXPECT().Initialize(gomock.Any()).Return(auth.Failure(auth.ErrSessionExpired, "session expired"))
		p.EXPECT().Logout(gomock.Any()).Return(auth.Result{Success: true})

		m := newTestManager(t, hub.Tab(), p)
		events := recordEvents(m)

		st, err := m.Initialize(ctx)
		require.NoError(t, err)
		assert.False(t, st.IsAuthenticated())
		assert.Zero(t, backend.Len())
		assert.Empty(t, events.all())
	})

	t.Run("misconfigured provider", func(t *testing.T) {
		reg := auth.NewRegistry(
			[]auth.ProviderConfig{{Type: auth.ProviderOAuth2, Enabled: true}},
			auth.ProviderOAuth2,
			func(auth.ProviderConfig) (auth.Provider, error) {
				return nil, errors.New("client id missing")
			},
		)

		m, err := New(Options{Registry: reg, Storage: storage.NewHub(memory.New()).Tab(), Keys: testKeys})
		require.NoError(t, err)

		defer m.Close()

		_, err = m.Initialize(context.Background())
		require.ErrorIs(t, err, auth.ErrProviderMisconfigured)

		res := m.Login(context.Background(), auth.Credentials{})
		assert.False(t, res.Success)
		assert.Equal(t, auth.KindMisconfigured, auth.Kind(res.Err))
	})
}

func TestPermissionsOfCurrentUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderLDAP)
	m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)

	assert.False(t, m.HasPermission(auth.PermDemandasView), "nobody logged in")

	readonly := alice()
	readonly.Role = auth.RoleReadonly
	readonly.Permissions = []string{auth.PermRelatoriosExport}

	loggedIn(t, m, p, auth.Result{User: readonly, Token: "tok"})

	assert.True(t, m.HasPermission(auth.PermDemandasView))
	assert.False(t, m.HasPermission(auth.PermSistemaAdmin))
	assert.True(t, m.HasPermission(auth.PermRelatoriosExport), "explicit permission")
	assert.True(t, m.HasAnyPermission(auth.PermSistemaAdmin, auth.PermOrgaosView))
	assert.False(t, m.HasAllPermissions(auth.PermDemandasView, auth.PermDemandasEdit))
	assert.True(t, m.CanAccess("documentos", "view"))
	assert.False(t, m.CanAccess("usuarios", "delete"))
}

func TestIsSessionExpiring(t *testing.T) {
	testCases := []struct {
		name     string
		result   auth.Result
		expected bool
	}{
		{name: "jwt five minutes out", result: auth.Result{Token: signed(t, 5*time.Minute)}, expected: true},
		{name: "jwt twenty minutes out", result: auth.Result{Token: signed(t, 20*time.Minute)}, expected: false},
		{name: "undecodable jwt", result: auth.Result{Token: "a.b.c", ExpiresIn: time.Hour}, expected: true},
		{name: "opaque token long lived", result: auth.Result{Token: "opaque", ExpiresIn: time.Hour}, expected: false},
		{name: "opaque token short lived", result: auth.Result{Token: "opaque", ExpiresIn: 10 * time.Minute}, expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			p := newProvider(ctrl, auth.ProviderJWT)
			m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)

			assert.False(t, m.IsSessionExpiring(), "no session")

			loggedIn(t, m, p, tc.result)
			assert.Equal(t, tc.expected, m.IsSessionExpiring())
		})
	}
}

func TestAuthHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderJWT)
	tab := storage.NewHub(memory.New()).Tab()

	m := newTestManager(t, tab, p, func(o *Options) {
		o.CSRF = csrf.New(tab, testKeys, csrf.Static("meta-token"))
	})

	ctx := context.Background()
	assert.Equal(t, map[string]string{csrf.HeaderToken: "meta-token"}, m.AuthHeaders(ctx))

	tok := signed(t, time.Hour)
	loggedIn(t, m, p, auth.Result{Token: tok, CSRFToken: "login-token", SessionID: "sid-1"})

	assert.Equal(t, map[string]string{
		csrf.HeaderToken:   "login-token",
		csrf.HeaderSession: "sid-1",
		"Authorization":    "Bearer " + tok,
	}, m.AuthHeaders(ctx))
}

func TestCSRFLifetimeFollowsSessionClock(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderSessionCookie)
	tab := storage.NewHub(memory.New()).Tab()
	clock := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	m := newTestManager(t, tab, p, func(o *Options) {
		o.CSRF = csrf.New(tab, testKeys, nil)
		o.Now = func() time.Time { return clock }
	})

	loggedIn(t, m, p, auth.Result{Token: "cookie", CSRFToken: "login-token", ExpiresIn: 4 * time.Hour})

	raw, err := tab.Get(context.Background(), testKeys.CSRF())
	require.NoError(t, err)

	var cached struct {
		Expires time.Time `json:"expires"`
	}
	require.NoError(t, json.Unmarshal(raw, &cached))

	assert.WithinDuration(t, time.Now().Add(4*time.Hour), cached.Expires, time.Minute)
}

func TestForcedLogoutRedirect(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderJWT)

	m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p, func(o *Options) {
		o.LoginURL = "https://app.example.com/login"
		o.Location = func() string { return "/documentos/42" }
	})
	events := recordEvents(m)

	loggedIn(t, m, p, auth.Result{Token: signed(t, time.Hour), RefreshToken: "rt"})

	p.EXPECT().Refresh(gomock.Any()).Return(auth.Failure(auth.ErrNetwork, "authentication service unavailable"))
	p.EXPECT().Logout(gomock.Any()).Return(auth.Result{Success: true})

	res := m.RefreshToken(context.Background())
	assert.False(t, res.Success)

	assert.Equal(t, Unauthenticated, m.State())
	require.Equal(t, 1, events.count(EventLogout))

	evt := events.all()[len(events.all())-1]
	require.ErrorIs(t, evt.Err, auth.ErrSessionExpired)
	require.ErrorIs(t, evt.Err, auth.ErrNetwork)

	u, err := url.Parse(evt.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, auth.KindSessionExpired.String(), u.Query().Get("reason"))

	ctx := context.Background()
	assert.Equal(t, "/documentos/42", m.ConsumeReturnTo(ctx))
	assert.Empty(t, m.ConsumeReturnTo(ctx), "destination is consumed once")
}

func TestClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newProvider(ctrl, auth.ProviderJWT)
	m := newTestManager(t, storage.NewHub(memory.New()).Tab(), p)

	loggedIn(t, m, p, auth.Result{Token: "tok"})
	require.True(t, m.timersRunning())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.False(t, m.timersRunning())
	assert.NotNil(t, m.CurrentUser(), "closing keeps the session")

	_, err := m.Initialize(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	res := m.Login(context.Background(), auth.Credentials{})
	require.ErrorIs(t, res.Err, ErrClosed)
}
