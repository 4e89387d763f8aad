package auth

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Default session-cookie endpoints.
const (
	DefaultCookieName = "session"
	DefaultLoginPath  = "/auth/login"
	DefaultLogoutPath = "/auth/logout"
	DefaultCheckPath  = "/auth/check-session"
)

// SessionCookieConfig configures a backend that tracks its own session and
// identifies it with a cookie.
type SessionCookieConfig struct {
	BaseURL     string // backend base url
	CookieName  string // name of the backend session cookie
	CheckPath   string // session check endpoint
	LoginPath   string // credential login endpoint
	LogoutPath  string // logout endpoint
	RefreshPath string // optional; without it a refresh re-checks the session
}

// SessionCookieProvider authenticates against a cookie session backend.
// The cookie lives in the shared cookie jar and is only ever deleted here.
type SessionCookieProvider struct {
	base
	cfg SessionCookieConfig
}

// NewSessionCookieProvider creates a session-cookie provider.
func NewSessionCookieProvider(cfg SessionCookieConfig, env Environment) (*SessionCookieProvider, error) {
	b, err := newBase(ProviderSessionCookie, cfg.BaseURL, env)
	if err != nil {
		return nil, err
	}

	if b.env.Client.Jar == nil {
		return nil, misconfigured("session-cookie provider needs a cookie jar")
	}

	cfg.CookieName = pathOr(cfg.CookieName, DefaultCookieName)
	cfg.CheckPath = pathOr(cfg.CheckPath, DefaultCheckPath)
	cfg.LoginPath = pathOr(cfg.LoginPath, DefaultLoginPath)
	cfg.LogoutPath = pathOr(cfg.LogoutPath, DefaultLogoutPath)

	return &SessionCookieProvider{base: b, cfg: cfg}, nil
}

func (p *SessionCookieProvider) cookieURL() *url.URL {
	return p.api.base
}

// cookie returns the session cookie value or "".
func (p *SessionCookieProvider) cookie() string {
	for _, c := range p.env.Client.Jar.Cookies(p.cookieURL()) {
		if c.Name == p.cfg.CookieName {
			return c.Value
		}
	}

	return ""
}

// restoreCookie puts a persisted session id back into an empty jar so that
// a restarted process resumes the backend session.
func (p *SessionCookieProvider) restoreCookie(ctx context.Context) {
	if p.cookie() != "" {
		return
	}

	if v := p.accessToken(ctx); v != "" {
		p.env.Client.Jar.SetCookies(p.cookieURL(), []*http.Cookie{{
			Name:  p.cfg.CookieName,
			Value: v,
			Path:  "/",
		}})
	}
}

// Initialize implements Provider. A missing cookie means "not
// authenticated" and is not an error.
func (p *SessionCookieProvider) Initialize(ctx context.Context) Result {
	p.restoreCookie(ctx)

	if p.cookie() == "" {
		return Result{Message: "not authenticated"}
	}

	res := p.check(ctx)
	if !res.Success && Kind(res.Err) == KindSessionExpired {
		return Result{Message: "not authenticated"}
	}

	return res
}

// Login implements Provider.
func (p *SessionCookieProvider) Login(ctx context.Context, creds Credentials) Result {
	body, err := credentialsBody(creds)
	if err != nil {
		return failed(err)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.LoginPath, json: body})
	if err != nil {
		return failed(err)
	}

	return p.withCookie(resp.result())
}

// Logout implements Provider. The backend is notified first, then the
// cookie is expired in the jar.
func (p *SessionCookieProvider) Logout(ctx context.Context) Result {
	p.notify(ctx, request{method: http.MethodPost, path: p.cfg.LogoutPath})

	p.env.Client.Jar.SetCookies(p.cookieURL(), []*http.Cookie{{
		Name:    p.cfg.CookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	}})

	return Result{Success: true, Message: "logged out"}
}

// Refresh implements Provider.
func (p *SessionCookieProvider) Refresh(ctx context.Context) Result {
	if p.cfg.RefreshPath == "" {
		return p.check(ctx)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.RefreshPath})
	if err != nil {
		return failed(asExpired(err))
	}

	return p.withCookie(resp.tokens())
}

// Validate implements Provider.
func (p *SessionCookieProvider) Validate(ctx context.Context) Result {
	if p.cookie() == "" {
		return failed(ErrSessionExpired)
	}

	return p.check(ctx)
}

func (p *SessionCookieProvider) check(ctx context.Context) Result {
	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.cfg.CheckPath})
	if err != nil {
		return failed(asExpired(err))
	}

	return p.withCookie(resp.result())
}

// withCookie uses the cookie value as token when the backend sent none.
func (p *SessionCookieProvider) withCookie(res Result) Result {
	if !res.Success {
		return res
	}

	if res.Token == "" {
		res.Token = p.cookie()
	}

	if res.SessionID == "" {
		res.SessionID = p.cookie()
	}

	if res.Token == "" {
		return failed(misconfigured("backend set no %q cookie", p.cfg.CookieName))
	}

	return res
}
