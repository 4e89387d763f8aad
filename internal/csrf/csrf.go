// Package csrf caches the anti-forgery token sent with backend requests.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

const (
	// HeaderToken carries the anti-forgery token.
	HeaderToken = "X-CSRF-Token"
	// HeaderSession carries the backend session id.
	HeaderSession = "X-Session-ID"
	// DefaultTTL is used when a token is cached without a lifetime.
	DefaultTTL = 30 * time.Minute
)

// MetaSource provides the page-embedded fallback token.
type MetaSource interface {
	CSRFToken(ctx context.Context) (string, error)
}

// Static is a fixed fallback token.
type Static string

// CSRFToken implements MetaSource.
func (s Static) CSRFToken(context.Context) (string, error) {
	return string(s), nil
}

type entry struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Cache stores {token, expires} under the CSRF key.
type Cache struct {
	store storage.Storage
	key   string
	meta  MetaSource
	now   func() time.Time
}

// New creates a cache on store. meta may be nil.
func New(store storage.Storage, keys storage.Keys, meta MetaSource) *Cache {
	return &Cache{
		store: store,
		key:   keys.CSRF(),
		meta:  meta,
		now:   time.Now,
	}
}

// Get returns the cached token while it is fresh, otherwise the meta
// fallback. It returns "" when neither is available.
func (c *Cache) Get(ctx context.Context) string {
	if tok := c.cached(ctx); tok != "" {
		return tok
	}

	if c.meta == nil {
		return ""
	}

	tok, err := c.meta.CSRFToken(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("csrf meta fallback unavailable")
		return ""
	}

	return tok
}

func (c *Cache) cached(ctx context.Context) string {
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read csrf token")
		}

		return ""
	}

	var e entry
	if err = json.Unmarshal(raw, &e); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable csrf token")
		return ""
	}

	if !e.Expires.IsZero() && !c.now().Before(e.Expires) {
		return ""
	}

	return e.Token
}

// Set caches token for ttl (DefaultTTL when ttl <= 0). An empty token
// clears the cache.
func (c *Cache) Set(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return c.Clear(ctx)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw, err := json.Marshal(entry{Token: token, Expires: c.now().Add(ttl)})
	if err != nil {
		return err
	}

	return c.store.Set(ctx, c.key, raw)
}

// Clear removes the cached token.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, c.key)
}

// Headers returns the request headers for token and sessionID; empty values
// are omitted.
func (c *Cache) Headers(ctx context.Context, sessionID string) map[string]string {
	h := make(map[string]string, 2)

	if tok := c.Get(ctx); tok != "" {
		h[HeaderToken] = tok
	}

	if sessionID != "" {
		h[HeaderSession] = sessionID
	}

	return h
}
