package devbackend

import (
	"errors"
	"sync"
	"time"

	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// CodeTTL bounds the authorization code round-trip.
const CodeTTL = time.Minute

// ErrInvalidGrant is returned for unknown, used or expired authorization codes.
var ErrInvalidGrant = errors.New("invalid authorization code")

type grant struct {
	username    string
	redirectURI string
	expires     time.Time
}

// codes holds the outstanding authorization codes. Each is valid once.
type codes struct {
	mu  sync.Mutex
	m   map[string]grant
	now func() time.Time
}

func newCodes(now func() time.Time) *codes {
	return &codes{m: make(map[string]grant), now: now}
}

func (c *codes) issue(username, redirectURI string) (string, error) {
	code, err := nonce.Token()
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[code] = grant{username: username, redirectURI: redirectURI, expires: c.now().Add(CodeTTL)}

	return code, nil
}

// consume redeems code. A redirect uri sent with the exchange must match
// the one of the authorization request.
func (c *codes) consume(code, redirectURI string) (grant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.m[code]
	delete(c.m, code)

	switch {
	case !ok:
		return grant{}, ErrInvalidGrant
	case !c.now().Before(g.expires):
		return grant{}, ErrInvalidGrant
	case redirectURI != "" && g.redirectURI != "" && redirectURI != g.redirectURI:
		return grant{}, ErrInvalidGrant
	}

	return g, nil
}
