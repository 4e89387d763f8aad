package csrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	keys := storage.Keys{Namespace: "t:"}
	store := memory.New()

	now := time.Now()

	c := New(store, keys, Static("from-meta"))
	c.now = func() time.Time { return now }

	assert.Equal(t, "from-meta", c.Get(ctx), "falls back to meta when nothing is cached")

	require.NoError(t, c.Set(ctx, "cached", time.Minute))
	assert.Equal(t, "cached", c.Get(ctx))

	now = now.Add(time.Minute)
	assert.Equal(t, "from-meta", c.Get(ctx), "expired token is ignored")

	require.NoError(t, c.Set(ctx, "again", 0))
	assert.Equal(t, map[string]string{HeaderToken: "again", HeaderSession: "sess-1"}, c.Headers(ctx, "sess-1"))

	require.NoError(t, c.Clear(ctx))

	_, err := store.Get(ctx, keys.CSRF())
	require.ErrorIs(t, err, storage.ErrNotFound)

	c.meta = nil
	assert.Empty(t, c.Headers(ctx, ""))

	require.NoError(t, store.Set(ctx, keys.CSRF(), []byte("not json")))
	assert.Empty(t, c.Get(ctx))
}

func TestMetaFromHTML(t *testing.T) {
	testCases := []struct {
		name     string
		page     string
		meta     string
		expected string
		err      error
	}{
		{
			name:     "default name",
			page:     `<html><head><meta charset="utf-8"><meta name="csrf-token" content="abc"></head></html>`,
			expected: "abc",
		},
		{
			name:     "custom name case insensitive",
			page:     `<html><head><META NAME="X-Token" CONTENT="xyz"></head><body></body></html>`,
			meta:     "x-token",
			expected: "xyz",
		},
		{
			name: "missing",
			page: `<html><head><meta name="description" content="x"></head></html>`,
			err:  ErrNoMeta,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := MetaFromHTML(strings.NewReader(tc.page), tc.meta)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte(`<!doctype html><meta name="csrf-token" content="page-token">`))
	}))
	defer srv.Close()

	tok, err := Page{URL: srv.URL + "/"}.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "page-token", tok)

	_, err = Page{URL: srv.URL + "/missing"}.CSRFToken(context.Background())
	require.Error(t, err)
}
