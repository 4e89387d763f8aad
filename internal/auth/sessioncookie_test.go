package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCookieBackend(t *testing.T) *fakeBackend {
	t.Helper()

	return newFakeBackend(t, map[string]http.HandlerFunc{
		"/auth/login": func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s-1", Path: "/"})
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": alice})
		},
		"/auth/check-session": func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie("sid")
			if err != nil || c.Value != "s-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": alice})
		},
		"/auth/logout": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
}

func TestSessionCookieProvider(t *testing.T) {
	fb := sessionCookieBackend(t)
	ctx := context.Background()

	p, err := NewSessionCookieProvider(SessionCookieConfig{BaseURL: fb.URL, CookieName: "sid"}, testEnv(t))
	require.NoError(t, err)
	assert.Equal(t, ProviderSessionCookie, p.Type())

	res := p.Initialize(ctx)
	assert.False(t, res.Success)
	require.NoError(t, res.Err, "a missing cookie is not an error")
	assert.Zero(t, fb.count("/auth/check-session"))

	res = p.Login(ctx, Credentials{Username: "alice", Password: "s3cret"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "s-1", res.Token)
	assert.Equal(t, "1", res.User.ID)

	res = p.Validate(ctx)
	require.True(t, res.Success)

	res = p.Refresh(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 2, fb.count("/auth/check-session"))

	res = p.Logout(ctx)
	assert.True(t, res.Success, "logout succeeds although the backend failed")
	assert.Equal(t, 1, fb.count("/auth/logout"))
	assert.Empty(t, p.cookie())

	res = p.Validate(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, KindSessionExpired, Kind(res.Err))
}

func TestSessionCookieRestoresPersistedCookie(t *testing.T) {
	fb := sessionCookieBackend(t)
	ctx := context.Background()

	env := testEnv(t)
	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte("s-1")))

	p, err := NewSessionCookieProvider(SessionCookieConfig{BaseURL: fb.URL, CookieName: "sid"}, env)
	require.NoError(t, err)

	res := p.Initialize(ctx)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "alice", res.User.Username)
}

func TestSessionCookieRejectedSessionIsNotAnError(t *testing.T) {
	fb := sessionCookieBackend(t)
	ctx := context.Background()

	env := testEnv(t)
	require.NoError(t, env.Storage.Set(ctx, testKeys.Token(), []byte("revoked")))

	p, err := NewSessionCookieProvider(SessionCookieConfig{BaseURL: fb.URL, CookieName: "sid"}, env)
	require.NoError(t, err)

	res := p.Initialize(ctx)
	assert.False(t, res.Success)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, fb.count("/auth/check-session"))
}

func TestSessionCookieLoginValidation(t *testing.T) {
	fb := sessionCookieBackend(t)

	p, err := NewSessionCookieProvider(SessionCookieConfig{BaseURL: fb.URL}, testEnv(t))
	require.NoError(t, err)

	res := p.Login(context.Background(), Credentials{Username: "alice"})
	assert.False(t, res.Success)
	require.ErrorIs(t, res.Err, ErrInvalidCredentials)
	assert.Zero(t, fb.count("/auth/login"))

	_, err = NewSessionCookieProvider(SessionCookieConfig{}, testEnv(t))
	require.ErrorIs(t, err, ErrProviderMisconfigured)
}
