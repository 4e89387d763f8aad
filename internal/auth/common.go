package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

// base holds what every provider variant shares.
type base struct {
	typ ProviderType
	env Environment
	api *backend
}

func newBase(typ ProviderType, baseURL string, env Environment) (base, error) {
	env = env.withDefaults()

	api, err := newBackend(baseURL, env)
	if err != nil {
		return base{}, err
	}

	return base{typ: typ, env: env, api: api}, nil
}

// Type implements Provider.
func (b *base) Type() ProviderType {
	return b.typ
}

// stored reads a provider key; a missing key reads as "".
func (b *base) stored(ctx context.Context, key string) string {
	v, err := b.env.Storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("provider", b.typ.String()).Str("key", key).Msg("failed to read storage")
		}

		return ""
	}

	return string(v)
}

func (b *base) accessToken(ctx context.Context) string {
	return b.stored(ctx, b.env.Keys.Token())
}

func (b *base) refreshToken(ctx context.Context) string {
	return b.stored(ctx, b.env.Keys.RefreshToken())
}

// notify performs a best-effort backend call whose failure must not block
// the caller, such as the logout notification.
func (b *base) notify(ctx context.Context, r request) {
	if b.api == nil || r.path == "" {
		return
	}

	if _, err := b.api.do(ctx, r); err != nil {
		log.Warn().Err(err).Str("provider", b.typ.String()).Str("path", r.path).Msg("backend notification failed")
	}
}

func (b *base) normalize(res Result) Result {
	if res.Success && res.User != nil {
		b.env.Normalizer.Normalize(res.User)
	}

	return res
}

// withToken fills an empty token from the first non-empty fallback. A
// successful result left without a token is malformed.
func withToken(res Result, fallbacks ...string) Result {
	if !res.Success {
		return res
	}

	for _, f := range fallbacks {
		if res.Token != "" {
			break
		}

		res.Token = f
	}

	if res.Token == "" {
		return failed(fmt.Errorf("%w: neither token nor session id", ErrMalformedResponse))
	}

	return res
}

// loginBody is the JSON body of credential logins.
type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}

func credentialsBody(creds Credentials) (loginBody, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return loginBody{}, ErrInvalidCredentials
	}

	return loginBody{Username: creds.Username, Password: creds.Password, OTP: creds.OTP}, nil
}

// userFromClaims builds a user out of unverified token claims.
func userFromClaims(c *token.Claims) (*User, error) {
	u := &User{
		ID:          c.Subject,
		Username:    c.Username,
		Email:       c.Email,
		DisplayName: c.Name,
		Role:        c.Role,
		Permissions: c.Permissions,
		Groups:      c.Groups,
		Department:  c.Department,
		IsActive:    true,
	}

	if u.Username == "" {
		u.Username = c.Subject
	}

	if err := validate.Struct(u); err != nil {
		return nil, fmt.Errorf("%w: claims: %w", ErrMalformedResponse, err)
	}

	return u, nil
}

func pathOr(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
