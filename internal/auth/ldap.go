package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// DefaultLDAPLoginPath is the backend proxy endpoint for directory logins.
const DefaultLDAPLoginPath = "/auth/ldap/login"

// DefaultDirectorySessionTTL is the lifetime of sessions verified directly
// against the directory.
const DefaultDirectorySessionTTL = 8 * time.Hour

// LDAPConfig holds LDAP/Active Directory authentication settings.
type LDAPConfig struct {
	// Enabled indicates if LDAP authentication is enabled.
	Enabled bool
	// BaseURL is the base url of the backend proxy.
	BaseURL string
	// LoginPath is the proxy endpoint receiving the credentials.
	LoginPath string
	// CheckPath confirms an existing backend session.
	CheckPath string
	// LogoutPath ends the backend session.
	LogoutPath string
	// RefreshPath renews the backend session; empty re-checks it.
	RefreshPath string
	// Domain is prefixed to bare usernames as DOMAIN\user (Active Directory).
	Domain string
	// Directory enables direct bind/search verification instead of the proxy.
	Directory DirectoryConfig
}

// LDAPProvider authenticates directory users. Credentials go to the backend
// proxy unless a Directory is configured.
type LDAPProvider struct {
	base
	cfg       LDAPConfig
	directory *Directory
}

// NewLDAPProvider creates an LDAP provider.
func NewLDAPProvider(cfg LDAPConfig, env Environment) (*LDAPProvider, error) {
	var (
		b   base
		err error
	)

	if cfg.BaseURL == "" && cfg.Directory.Enabled {
		b = base{typ: ProviderLDAP, env: env.withDefaults()}
	} else if b, err = newBase(ProviderLDAP, cfg.BaseURL, env); err != nil {
		return nil, err
	}

	cfg.LoginPath = pathOr(cfg.LoginPath, DefaultLDAPLoginPath)
	cfg.CheckPath = pathOr(cfg.CheckPath, DefaultCheckPath)
	cfg.LogoutPath = pathOr(cfg.LogoutPath, DefaultLogoutPath)

	p := &LDAPProvider{base: b, cfg: cfg}

	if cfg.Directory.Enabled {
		if p.directory, err = NewDirectory(cfg.Directory); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// qualify applies the AD domain prefix to bare usernames.
func (p *LDAPProvider) qualify(username string) string {
	if p.cfg.Domain == "" || strings.ContainsAny(username, `\@`) {
		return username
	}

	return p.cfg.Domain + `\` + username
}

// Initialize implements Provider.
func (p *LDAPProvider) Initialize(ctx context.Context) Result {
	if p.directory != nil {
		return p.directorySession(ctx)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.cfg.CheckPath})
	if err != nil {
		if Kind(err) == KindCredential {
			return Result{Message: "not authenticated"}
		}

		return failed(err)
	}

	res := p.normalize(resp.result())

	return withToken(res, p.accessToken(ctx), res.SessionID)
}

// Login implements Provider.
func (p *LDAPProvider) Login(ctx context.Context, creds Credentials) Result {
	body, err := credentialsBody(creds)
	if err != nil {
		return failed(err)
	}

	if p.directory != nil {
		return p.directoryLogin(ctx, creds)
	}

	body.Username = p.qualify(body.Username)

	resp, err := p.api.do(ctx, request{method: http.MethodPost, path: p.cfg.LoginPath, json: body})
	if err != nil {
		return failed(err)
	}

	res := p.normalize(resp.result())

	return withToken(res, res.SessionID)
}

// Logout implements Provider.
func (p *LDAPProvider) Logout(ctx context.Context) Result {
	if p.directory == nil {
		p.notify(ctx, request{method: http.MethodPost, path: p.cfg.LogoutPath, bearer: p.accessToken(ctx)})
	} else if err := p.env.Storage.Delete(ctx, p.env.Keys.DirectorySession()); err != nil {
		log.Warn().Err(err).Msg("failed to delete directory session")
	}

	return Result{Success: true, Message: "logged out"}
}

// Refresh implements Provider.
func (p *LDAPProvider) Refresh(ctx context.Context) Result {
	if p.directory != nil {
		res := p.directorySession(ctx)
		if res.Success {
			res.ExpiresIn = p.directory.sessionTTL()
		}

		return res
	}

	if p.cfg.RefreshPath == "" {
		return p.Validate(ctx)
	}

	resp, err := p.api.do(ctx, request{
		method: http.MethodPost,
		path:   p.cfg.RefreshPath,
		json:   map[string]string{"refreshToken": p.refreshToken(ctx)},
		bearer: p.accessToken(ctx),
	})
	if err != nil {
		return failed(asExpired(err))
	}

	return p.normalize(resp.tokens())
}

// Validate implements Provider.
func (p *LDAPProvider) Validate(ctx context.Context) Result {
	if p.directory != nil {
		return p.directorySession(ctx)
	}

	resp, err := p.api.do(ctx, request{method: http.MethodGet, path: p.cfg.CheckPath, bearer: p.accessToken(ctx)})
	if err != nil {
		return failed(asExpired(err))
	}

	res := p.normalize(resp.result())

	return withToken(res, p.accessToken(ctx), res.SessionID)
}

func (p *LDAPProvider) directoryLogin(ctx context.Context, creds Credentials) Result {
	user, err := p.directory.Authenticate(ctx, creds.Username, creds.Password)
	if err != nil {
		return failed(err)
	}

	tok, err := nonce.Token()
	if err != nil {
		return failed(err)
	}

	if err = p.bind(ctx, tok, user.Username); err != nil {
		return failed(err)
	}

	return p.normalize(Result{
		Success:   true,
		User:      user,
		Token:     tok,
		SessionID: tok,
		ExpiresIn: p.directory.sessionTTL(),
	})
}

// directorySession re-reads the user bound to the current token from the
// directory, so that disabled or removed accounts lose their session.
func (p *LDAPProvider) directorySession(ctx context.Context) Result {
	tok := p.accessToken(ctx)
	if tok == "" {
		return Result{Message: "not authenticated"}
	}

	username, ok := p.bound(ctx, tok)
	if !ok {
		return failed(ErrSessionExpired)
	}

	user, err := p.directory.Lookup(ctx, username)
	if err != nil {
		return failed(asExpired(err))
	}

	return p.normalize(Result{Success: true, User: user, Token: tok, SessionID: tok})
}

// directoryBinding is persisted next to the session so that every tab
// sharing the storage can resolve the token to its user.
type directoryBinding struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (p *LDAPProvider) bind(ctx context.Context, tok, username string) error {
	raw, err := json.Marshal(directoryBinding{Token: tok, Username: username})
	if err != nil {
		return err
	}

	return p.env.Storage.Set(ctx, p.env.Keys.DirectorySession(), raw)
}

func (p *LDAPProvider) bound(ctx context.Context, tok string) (string, bool) {
	raw := p.stored(ctx, p.env.Keys.DirectorySession())
	if raw == "" {
		return "", false
	}

	var b directoryBinding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable directory session")
		return "", false
	}

	return b.Username, b.Username != "" && b.Token == tok
}
