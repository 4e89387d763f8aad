package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

const bobDN = "uid=bob,ou=people,dc=example,dc=com"

type fakeConn struct {
	users  map[string]string
	closed bool
	down   bool
}

func (f *fakeConn) Bind(username, password string) error {
	if f.down {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset"))
	}

	if pw, ok := f.users[username]; ok && pw == password {
		return nil
	}

	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	switch {
	case req.BaseDN == "ou=groups,dc=example,dc=com":
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry("cn=staff,ou=groups,dc=example,dc=com", map[string][]string{"cn": {"staff"}}),
			ldap.NewEntry("cn=unnamed,ou=groups,dc=example,dc=com", nil),
		}}, nil
	case strings.Contains(req.Filter, "(uid=bob)"):
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry(bobDN, map[string][]string{
				"uid":         {"bob"},
				"mail":        {"bob@example.com"},
				"displayName": {"Bob Builder"},
				"department":  {"Works"},
			}),
		}}, nil
	case strings.Contains(req.Filter, "(uid=twin)"):
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry("uid=twin,ou=a", nil),
			ldap.NewEntry("uid=twin,ou=b", nil),
		}}, nil
	default:
		return &ldap.SearchResult{}, nil
	}
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func testDirectory(t *testing.T, conn *fakeConn) *Directory {
	t.Helper()

	d, err := NewDirectory(DirectoryConfig{
		Enabled:      true,
		Host:         "ldap.example.com",
		BaseDN:       "ou=people,dc=example,dc=com",
		UserFilter:   "(uid={username})",
		GroupBaseDN:  "ou=groups,dc=example,dc=com",
		BindDN:       "cn=svc,dc=example,dc=com",
		BindPassword: "svcpw",
	})
	require.NoError(t, err)

	d.dial = func(DirectoryConfig) (ldapConn, error) { return conn, nil }

	return d
}

func newFakeConn() *fakeConn {
	return &fakeConn{users: map[string]string{
		"cn=svc,dc=example,dc=com": "svcpw",
		bobDN:                      "pw",
	}}
}

func TestDirectoryAuthenticate(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		username string
		password string
		down     bool
		kind     ErrorKind
	}{
		{name: "valid", username: "bob", password: "pw", kind: KindNone},
		{name: "domain prefix is stripped", username: `CORP\bob`, password: "pw", kind: KindNone},
		{name: "wrong password", username: "bob", password: "nope", kind: KindCredential},
		{name: "empty password", username: "bob", password: "", kind: KindCredential},
		{name: "unknown user", username: "mallory", password: "pw", kind: KindCredential},
		{name: "ambiguous user", username: "twin", password: "pw", kind: KindCredential},
		{name: "directory unreachable", username: "bob", password: "pw", down: true, kind: KindNetwork},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			conn.down = tc.down

			user, err := testDirectory(t, conn).Authenticate(ctx, tc.username, tc.password)
			assert.Equal(t, tc.kind, Kind(err), "%v", err)

			if tc.kind != KindNone {
				assert.Nil(t, user)
				return
			}

			assert.Equal(t, bobDN, user.ID)
			assert.Equal(t, "bob", user.Username)
			assert.Equal(t, "Bob Builder", user.DisplayName)
			assert.Equal(t, "Works", user.Department)
			assert.Equal(t, []string{"staff", "cn=unnamed,ou=groups,dc=example,dc=com"}, user.Groups)
			assert.True(t, conn.closed)
		})
	}
}

func TestBindError(t *testing.T) {
	assert.ErrorIs(t, bindError(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("x"))), ErrInvalidCredentials)
	assert.ErrorIs(t, bindError(ldap.NewError(ldap.ErrorNetwork, errors.New("x"))), ErrNetwork)
}

func TestNewDirectoryDefaults(t *testing.T) {
	_, err := NewDirectory(DirectoryConfig{Host: "ldap"})
	require.ErrorIs(t, err, ErrProviderMisconfigured)

	d, err := NewDirectory(DirectoryConfig{Host: "ldap", BaseDN: "dc=x", UserFilter: "(uid={username})", UseSSL: true})
	require.NoError(t, err)
	assert.Equal(t, 636, d.config.Port)
	assert.Equal(t, "(member={userdn})", d.config.GroupFilter)
	assert.Equal(t, DefaultDirectorySessionTTL, d.sessionTTL())
}

func TestLDAPProviderDirectoryMode(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	env.Normalizer = &Normalizer{
		Mapping: PermissionMapping{ResourceRelatorios: {ActionExport: {"staff"}}},
	}

	p, err := NewLDAPProvider(LDAPConfig{
		Enabled: true,
		Directory: DirectoryConfig{
			Enabled:     true,
			Host:        "ldap.example.com",
			BaseDN:      "ou=people,dc=example,dc=com",
			UserFilter:  "(uid={username})",
			GroupBaseDN: "ou=groups,dc=example,dc=com",
		},
	}, env)
	require.NoError(t, err)

	p.directory.dial = func(DirectoryConfig) (ldapConn, error) { return newFakeConn(), nil }

	res := p.Login(ctx, Credentials{Username: "bob", Password: "pw"})
	require.True(t, res.Success, res.Message)
	require.NotEmpty(t, res.Token)
	assert.Contains(t, res.User.Permissions, PermRelatoriosExport)

	res2 := p.Validate(ctx)
	assert.False(t, res2.Success, "token not yet persisted")

	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte(res.Token)))

	res2 = p.Validate(ctx)
	require.True(t, res2.Success, res2.Message)
	assert.Equal(t, "bob", res2.User.Username)

	res2 = p.Refresh(ctx)
	require.True(t, res2.Success)
	assert.Equal(t, DefaultDirectorySessionTTL, res2.ExpiresIn)

	assert.True(t, p.Logout(ctx).Success)

	_, err = NewLDAPProvider(LDAPConfig{Directory: DirectoryConfig{Enabled: true}}, env)
	require.ErrorIs(t, err, ErrProviderMisconfigured)

	_, err = NewLDAPProvider(LDAPConfig{}, env)
	require.ErrorIs(t, err, ErrProviderMisconfigured)
}

func TestDirectorySessionSharedAcrossProviders(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)

	cfg := LDAPConfig{
		Enabled: true,
		Directory: DirectoryConfig{
			Enabled:     true,
			Host:        "ldap.example.com",
			BaseDN:      "ou=people,dc=example,dc=com",
			UserFilter:  "(uid={username})",
			GroupBaseDN: "ou=groups,dc=example,dc=com",
		},
	}

	newProvider := func() *LDAPProvider {
		p, err := NewLDAPProvider(cfg, env)
		require.NoError(t, err)

		p.directory.dial = func(DirectoryConfig) (ldapConn, error) { return newFakeConn(), nil }

		return p
	}

	first, second := newProvider(), newProvider()

	res := first.Login(ctx, Credentials{Username: "bob", Password: "pw"})
	require.True(t, res.Success, res.Message)
	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte(res.Token)))

	got := second.Validate(ctx)
	require.True(t, got.Success, got.Message)
	assert.Equal(t, "bob", got.User.Username)
	assert.Equal(t, res.Token, got.Token)

	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte("forged")))

	got = second.Validate(ctx)
	assert.False(t, got.Success)
	assert.Equal(t, KindSessionExpired, Kind(got.Err))

	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte(res.Token)))
	assert.True(t, second.Logout(ctx).Success)

	_, err := env.Storage.Get(ctx, testKeys.DirectorySession())
	require.ErrorIs(t, err, storage.ErrNotFound)

	got = first.Validate(ctx)
	assert.False(t, got.Success)
}
