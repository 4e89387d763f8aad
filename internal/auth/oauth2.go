package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// Default OAuth2 settings.
const (
	DefaultOAuth2CallbackPath = "/auth/oauth2/callback"
	DefaultUserInfoPath       = "/oauth2/userinfo"
	DefaultRefreshPath        = "/auth/refresh"
	DefaultStateTTL           = 10 * time.Minute
)

// OAuth2Config holds OAuth2/OpenID Connect settings.
type OAuth2Config struct {
	// Enabled indicates if OAuth2 authentication is enabled.
	Enabled bool
	// BaseURL is the backend that exchanges the authorization code.
	BaseURL string
	// ClientID is the OAuth2 client identifier.
	ClientID string
	// ClientSecret is only needed when the token endpoint is called directly.
	ClientSecret string
	// RedirectURL is the callback URL registered at the identity provider.
	RedirectURL string
	// Scopes are the OAuth2 scopes to request (default: ["openid", "profile", "email"]).
	Scopes []string
	// AuthorizationURL is the identity provider authorization endpoint.
	AuthorizationURL string
	// TokenURL enables refreshing directly at the identity provider.
	TokenURL string
	// UserInfoURL checks stored access tokens (default: backend /oauth2/userinfo).
	UserInfoURL string
	// Issuer enables OIDC discovery of the endpoints above.
	Issuer string
	// CallbackPath is the backend endpoint receiving code and state.
	CallbackPath string
	// LogoutPath ends the backend session.
	LogoutPath string
	// RefreshPath is the backend refresh endpoint used without TokenURL.
	RefreshPath string
	// StateTTL bounds the redirect round-trip.
	StateTTL time.Duration
	// SkipStateCheck accepts callbacks whose state does not match the stored
	// nonce. The nonce is still generated, stored and consumed.
	SkipStateCheck bool
}

// flowState is the persisted OAuth2 state nonce.
type flowState struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// OAuth2Provider implements the authorization code flow. The code is
// exchanged by the backend callback endpoint.
type OAuth2Provider struct {
	base
	cfg OAuth2Config

	mu       sync.Mutex
	oauth2   *oauth2.Config
	userInfo string
	oidc     *oidc.Provider
}

// NewOAuth2Provider creates an OAuth2 provider. With an Issuer the endpoints
// are discovered lazily on first use.
func NewOAuth2Provider(cfg OAuth2Config, env Environment) (*OAuth2Provider, error) {
	b, err := newBase(ProviderOAuth2, cfg.BaseURL, env)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.ClientID == "":
		return nil, misconfigured("oauth2 client id is empty")
	case cfg.RedirectURL == "":
		return nil, misconfigured("oauth2 redirect url is empty")
	case cfg.AuthorizationURL == "" && cfg.Issuer == "":
		return nil, misconfigured("oauth2 needs an authorization url or an issuer")
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}

	cfg.CallbackPath = pathOr(cfg.CallbackPath, DefaultOAuth2CallbackPath)
	cfg.LogoutPath = pathOr(cfg.LogoutPath, DefaultLogoutPath)
	cfg.RefreshPath = pathOr(cfg.RefreshPath, DefaultRefreshPath)

	p := &OAuth2Provider{base: b, cfg: cfg}

	if cfg.Issuer == "" {
		p.oauth2 = p.config(oauth2.Endpoint{AuthURL: cfg.AuthorizationURL, TokenURL: cfg.TokenURL})
		p.userInfo = pathOr(cfg.UserInfoURL, p.api.url(DefaultUserInfoPath))
	}

	if cfg.SkipStateCheck {
		log.Warn().Msg("oauth2 state verification is disabled")
	}

	return p, nil
}

func (p *OAuth2Provider) config(endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       p.cfg.Scopes,
	}
}

// endpoints returns the oauth2 config, running OIDC discovery once it
// succeeds.
func (p *OAuth2Provider) endpoints(ctx context.Context) (*oauth2.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.oauth2 != nil {
		return p.oauth2, nil
	}

	provider, err := oidc.NewProvider(p.httpContext(ctx), p.cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create OIDC provider: %w", ErrNetwork, err)
	}

	endpoint := provider.Endpoint()
	if p.cfg.AuthorizationURL != "" {
		endpoint.AuthURL = p.cfg.AuthorizationURL
	}

	if p.cfg.TokenURL != "" {
		endpoint.TokenURL = p.cfg.TokenURL
	}

	p.oidc = provider
	p.oauth2 = p.config(endpoint)
	p.userInfo = pathOr(p.cfg.UserInfoURL, provider.UserInfoEndpoint())

	if p.userInfo == "" {
		p.userInfo = p.api.url(DefaultUserInfoPath)
	}

	return p.oauth2, nil
}

func (p *OAuth2Provider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.env.Client)
}

// Initialize implements Provider. Callback parameters in the current
// location take precedence over a stored access token.
func (p *OAuth2Provider) Initialize(ctx context.Context) Result {
	if q := p.callbackQuery(); q != nil {
		if msg := q.Get("error"); msg != "" {
			if desc := q.Get("error_description"); desc != "" {
				msg = desc
			}

			return failed(&BackendError{Message: msg, Err: ErrInvalidCredentials})
		}

		if q.Get("code") != "" && q.Get("state") != "" {
			return p.callback(ctx, q.Get("code"), q.Get("state"))
		}
	}

	tok := p.accessToken(ctx)
	if tok == "" {
		return Result{Message: "not authenticated"}
	}

	res := p.profile(ctx, tok)
	if !res.Success {
		return res
	}

	res.Token = tok
	res.RefreshToken = p.refreshToken(ctx)

	return res
}

func (p *OAuth2Provider) callbackQuery() url.Values {
	loc := p.env.Location()
	if loc == "" {
		return nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil
	}

	return u.Query()
}

// Login implements Provider. Without a code it returns the authorization
// redirect after persisting a fresh state nonce.
func (p *OAuth2Provider) Login(ctx context.Context, creds Credentials) Result {
	if creds.Code != "" {
		return p.callback(ctx, creds.Code, creds.State)
	}

	cfg, err := p.endpoints(ctx)
	if err != nil {
		return failed(err)
	}

	state, err := nonce.State()
	if err != nil {
		return failed(err)
	}

	raw, err := json.Marshal(flowState{State: state, CreatedAt: p.env.Now()})
	if err != nil {
		return failed(err)
	}

	if err = p.env.Storage.Set(ctx, p.env.Keys.OAuth2State(), raw); err != nil {
		return failed(fmt.Errorf("persist oauth2 state: %w", err))
	}

	return Redirect(cfg.AuthCodeURL(state))
}

// consumeState loads and deletes the stored state nonce.
func (p *OAuth2Provider) consumeState(ctx context.Context, got string) error {
	key := p.env.Keys.OAuth2State()

	raw, err := p.env.Storage.Get(ctx, key)
	if delErr := p.env.Storage.Delete(ctx, key); delErr != nil {
		log.Warn().Err(delErr).Msg("failed to delete oauth2 state")
	}

	var fs flowState

	switch {
	case err != nil:
		err = fmt.Errorf("%w: no stored state", ErrStateMismatch)
	case json.Unmarshal(raw, &fs) != nil:
		err = fmt.Errorf("%w: unreadable stored state", ErrStateMismatch)
	case fs.State != got:
		err = fmt.Errorf("%w: state does not match", ErrStateMismatch)
	case p.env.Now().Sub(fs.CreatedAt) > p.cfg.StateTTL:
		err = fmt.Errorf("%w: state expired", ErrStateMismatch)
	}

	if err != nil && p.cfg.SkipStateCheck {
		log.Warn().Err(err).Msg("accepting oauth2 callback without state verification")
		return nil
	}

	return err
}

// callback sends code and state to the backend callback endpoint.
func (p *OAuth2Provider) callback(ctx context.Context, code, state string) Result {
	if err := p.consumeState(ctx, state); err != nil {
		return failed(err)
	}

	resp, err := p.api.do(ctx, request{
		method: http.MethodPost,
		path:   p.cfg.CallbackPath,
		json: map[string]string{
			"code":        code,
			"state":       state,
			"redirectUri": p.cfg.RedirectURL,
		},
	})
	if err != nil {
		return failed(err)
	}

	res := p.normalize(resp.result())
	if res.Success && res.Token == "" {
		return failed(fmt.Errorf("%w: callback returned no access token", ErrMalformedResponse))
	}

	return res
}

// profile fetches the user behind tok from the userinfo endpoint.
func (p *OAuth2Provider) profile(ctx context.Context, tok string) Result {
	if _, err := p.endpoints(ctx); err != nil {
		return failed(err)
	}

	if p.oidc != nil && p.cfg.UserInfoURL == "" {
		return p.oidcProfile(ctx, tok)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.userInfo, bearer: tok})
	if err != nil {
		return failed(asExpired(err))
	}

	u, err := resp.profile()
	if err != nil {
		return failed(err)
	}

	return p.normalize(Result{Success: true, User: u, Token: tok})
}

func (p *OAuth2Provider) oidcProfile(ctx context.Context, tok string) Result {
	info, err := p.oidc.UserInfo(p.httpContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))
	if err != nil {
		return failed(fmt.Errorf("%w: failed to get user info: %w", ErrSessionExpired, err))
	}

	var up userPayload
	if err = info.Claims(&up); err != nil {
		return failed(fmt.Errorf("%w: failed to parse user info claims: %w", ErrMalformedResponse, err))
	}

	u, err := up.user()
	if err != nil {
		return failed(err)
	}

	return p.normalize(Result{Success: true, User: u, Token: tok})
}

// Logout implements Provider.
func (p *OAuth2Provider) Logout(ctx context.Context) Result {
	p.notify(ctx, request{method: http.MethodPost, path: p.cfg.LogoutPath, bearer: p.accessToken(ctx)})

	if err := p.env.Storage.Delete(ctx, p.env.Keys.OAuth2State()); err != nil {
		log.Warn().Err(err).Msg("failed to delete oauth2 state")
	}

	return Result{Success: true, Message: "logged out"}
}

// Refresh implements Provider. The identity provider token endpoint is used
// when known, the backend refresh endpoint otherwise.
func (p *OAuth2Provider) Refresh(ctx context.Context) Result {
	rt := p.refreshToken(ctx)
	if rt == "" {
		return failed(fmt.Errorf("%w: no refresh token", ErrRefreshUnsupported))
	}

	cfg, err := p.endpoints(ctx)
	if err != nil {
		return failed(err)
	}

	if cfg.Endpoint.TokenURL == "" {
		resp, errRefresh := p.api.do(ctx, request{
			method: http.MethodPost,
			path:   p.cfg.RefreshPath,
			json:   map[string]string{"refreshToken": rt},
		})
		if errRefresh != nil {
			return failed(asExpired(errRefresh))
		}

		return p.normalize(resp.tokens())
	}

	tok, err := cfg.TokenSource(p.httpContext(ctx), &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return failed(fmt.Errorf("%w: %w", ErrSessionExpired, err))
		}

		return failed(fmt.Errorf("%w: %w", ErrNetwork, err))
	}

	res := Result{Success: true, Token: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		res.ExpiresIn = tok.Expiry.Sub(p.env.Now())
	}

	if res.RefreshToken == "" {
		res.RefreshToken = rt
	}

	return res
}

// Validate implements Provider.
func (p *OAuth2Provider) Validate(ctx context.Context) Result {
	tok := p.accessToken(ctx)
	if tok == "" {
		return failed(fmt.Errorf("%w: no access token", ErrSessionExpired))
	}

	return p.profile(ctx, tok)
}
