package auth

import (
	"context"
	"net/http"
	"net/url"
)

// DefaultSAMLACSPath is the backend Assertion Consumer Service endpoint.
const DefaultSAMLACSPath = "/auth/saml/acs"

// SAMLConfig holds SAML 2.0 settings.
type SAMLConfig struct {
	Enabled     bool   // enable SAML authentication
	BaseURL     string // backend base url
	EntryPoint  string // identity provider SSO url, used as is
	RelayState  string // optional relay state appended to the entry point
	ACSPath     string // backend assertion consumer service
	CheckPath   string // session check endpoint
	LogoutPath  string // logout endpoint
	RefreshPath string // optional; without it a refresh re-checks the session
}

// SAMLProvider implements the SAML POST binding: the outbound leg is a
// redirect to the entry point and the assertion is forwarded to the backend
// unvalidated.
type SAMLProvider struct {
	base
	cfg SAMLConfig
}

// NewSAMLProvider creates a SAML provider.
func NewSAMLProvider(cfg SAMLConfig, env Environment) (*SAMLProvider, error) {
	b, err := newBase(ProviderSAML, cfg.BaseURL, env)
	if err != nil {
		return nil, err
	}

	if u, errParse := url.Parse(cfg.EntryPoint); cfg.EntryPoint == "" || errParse != nil || !u.IsAbs() {
		return nil, misconfigured("saml entry point %q is not an absolute url", cfg.EntryPoint)
	}

	cfg.ACSPath = pathOr(cfg.ACSPath, DefaultSAMLACSPath)
	cfg.CheckPath = pathOr(cfg.CheckPath, DefaultCheckPath)
	cfg.LogoutPath = pathOr(cfg.LogoutPath, DefaultLogoutPath)

	return &SAMLProvider{base: b, cfg: cfg}, nil
}

func (p *SAMLProvider) entryPoint() string {
	if p.cfg.RelayState == "" {
		return p.cfg.EntryPoint
	}

	u, _ := url.Parse(p.cfg.EntryPoint)
	q := u.Query()
	q.Set("RelayState", p.cfg.RelayState)
	u.RawQuery = q.Encode()

	return u.String()
}

// Initialize implements Provider.
func (p *SAMLProvider) Initialize(ctx context.Context) Result {
	res := p.check(ctx)
	if !res.Success && Kind(res.Err) == KindSessionExpired {
		return Result{Message: "not authenticated"}
	}

	return res
}

// Login implements Provider. Without an assertion it returns the entry
// point redirect.
func (p *SAMLProvider) Login(ctx context.Context, creds Credentials) Result {
	if creds.SAMLResponse == "" {
		return Redirect(p.entryPoint())
	}

	form := url.Values{"SAMLResponse": {creds.SAMLResponse}}

	relay := creds.RelayState
	if relay == "" {
		relay = p.cfg.RelayState
	}

	if relay != "" {
		form.Set("RelayState", relay)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.ACSPath, form: form})
	if err != nil {
		return failed(err)
	}

	res := p.normalize(resp.result())
	if res.Success && res.Token == "" {
		res.Token = res.SessionID
	}

	if res.Success && res.Token == "" {
		return failed(misconfigured("assertion consumer returned neither token nor session id"))
	}

	return res
}

// Logout implements Provider.
func (p *SAMLProvider) Logout(ctx context.Context) Result {
	p.notify(ctx, request{method: http.MethodPost, path: p.cfg.LogoutPath, bearer: p.accessToken(ctx)})

	return Result{Success: true, Message: "logged out"}
}

// Refresh implements Provider.
func (p *SAMLProvider) Refresh(ctx context.Context) Result {
	if p.cfg.RefreshPath == "" {
		return p.check(ctx)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.RefreshPath, bearer: p.accessToken(ctx)})
	if err != nil {
		return failed(asExpired(err))
	}

	return p.normalize(resp.tokens())
}

// Validate implements Provider.
func (p *SAMLProvider) Validate(ctx context.Context) Result {
	return p.check(ctx)
}

func (p *SAMLProvider) check(ctx context.Context) Result {
	tok := p.accessToken(ctx)

	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.cfg.CheckPath, bearer: tok})
	if err != nil {
		return failed(asExpired(err))
	}

	res := p.normalize(resp.result())

	return withToken(res, tok, res.SessionID)
}
