package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

// DefaultMePath returns the user behind a bearer token.
const DefaultMePath = "/auth/me"

// JWTConfig holds the settings of a token issuing API.
type JWTConfig struct {
	Enabled     bool   // enable JWT authentication
	BaseURL     string // api base url
	LoginPath   string // credential exchange endpoint
	RefreshPath string // refresh token exchange endpoint
	MePath      string // current user endpoint
	LogoutPath  string // token revocation endpoint
}

// JWTProvider exchanges credentials for an access/refresh token pair.
type JWTProvider struct {
	base
	cfg JWTConfig
}

// NewJWTProvider creates a JWT provider.
func NewJWTProvider(cfg JWTConfig, env Environment) (*JWTProvider, error) {
	b, err := newBase(ProviderJWT, cfg.BaseURL, env)
	if err != nil {
		return nil, err
	}

	cfg.LoginPath = pathOr(cfg.LoginPath, DefaultLoginPath)
	cfg.RefreshPath = pathOr(cfg.RefreshPath, DefaultRefreshPath)
	cfg.MePath = pathOr(cfg.MePath, DefaultMePath)
	cfg.LogoutPath = pathOr(cfg.LogoutPath, DefaultLogoutPath)

	return &JWTProvider{base: b, cfg: cfg}, nil
}

// Initialize implements Provider. A stored token is confirmed at the me
// endpoint.
func (p *JWTProvider) Initialize(ctx context.Context) Result {
	tok := p.accessToken(ctx)
	if tok == "" {
		return Result{Message: "not authenticated"}
	}

	if _, err := token.Parse(tok); err != nil {
		return failed(err)
	}

	res := p.Validate(ctx)
	if res.Success {
		res.RefreshToken = p.refreshToken(ctx)
	}

	return res
}

// Login implements Provider.
func (p *JWTProvider) Login(ctx context.Context, creds Credentials) Result {
	body, err := credentialsBody(creds)
	if err != nil {
		return failed(err)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.LoginPath, json: body})
	if err != nil {
		return failed(err)
	}

	return p.pair(resp, true)
}

// Logout implements Provider.
func (p *JWTProvider) Logout(ctx context.Context) Result {
	p.notify(ctx, request{
		method: http.MethodPost,
		path:   p.cfg.LogoutPath,
		json:   map[string]string{"refreshToken": p.refreshToken(ctx)},
		bearer: p.accessToken(ctx),
	})

	return Result{Success: true, Message: "logged out"}
}

// Refresh implements Provider.
func (p *JWTProvider) Refresh(ctx context.Context) Result {
	rt := p.refreshToken(ctx)
	if rt == "" {
		return failed(fmt.Errorf("%w: no refresh token", ErrRefreshUnsupported))
	}

	resp, err := p.api.do(ctx, request{
		method: http.MethodPost,
		path:   p.cfg.RefreshPath,
		json:   map[string]string{"refreshToken": rt},
	})
	if err != nil {
		return failed(asExpired(err))
	}

	res := p.pair(resp, false)
	if res.Success && res.RefreshToken == "" {
		res.RefreshToken = rt
	}

	return res
}

// Validate implements Provider.
func (p *JWTProvider) Validate(ctx context.Context) Result {
	tok := p.accessToken(ctx)
	if tok == "" {
		return failed(fmt.Errorf("%w: no access token", ErrSessionExpired))
	}

	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.cfg.MePath, bearer: tok})
	if err != nil {
		return failed(asExpired(err))
	}

	u, err := resp.profile()
	if err != nil {
		return failed(err)
	}

	return Result{Success: true, User: u, Token: tok}
}

// pair converts a token answer. The user is taken from the answer or, when
// absent, decoded from the access token claims.
func (p *JWTProvider) pair(resp *payload, needUser bool) Result {
	res := resp.tokens()
	if !res.Success {
		return res
	}

	if res.Token == "" {
		return failed(fmt.Errorf("%w: no access token", ErrMalformedResponse))
	}

	claims, err := token.Parse(res.Token)
	if err != nil {
		return failed(err)
	}

	if res.ExpiresIn == 0 && claims.ExpiresAt != nil {
		res.ExpiresIn = claims.ExpiresAt.Sub(p.env.Now())
	}

	if res.User == nil && needUser {
		if res.User, err = userFromClaims(claims); err != nil {
			return failed(err)
		}
	}

	return res
}
