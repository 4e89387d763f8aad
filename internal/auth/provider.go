package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
)

// DefaultHTTPTimeout bounds every backend request made by the providers.
const DefaultHTTPTimeout = 15 * time.Second

// Provider is the contract every identity backend implements. No method
// panics or returns an error: failures are reported in the Result.
type Provider interface {
	// Type returns the provider variant.
	Type() ProviderType
	// Initialize detects an existing session (cookie, stored token or
	// callback parameters) without user interaction.
	Initialize(ctx context.Context) Result
	// Login authenticates with creds or starts a redirect flow.
	Login(ctx context.Context, creds Credentials) Result
	// Logout ends the backend session. It succeeds locally even when the
	// backend cannot be notified.
	Logout(ctx context.Context) Result
	// Refresh renews the session token.
	Refresh(ctx context.Context) Result
	// Validate asks the backend whether the session is still honoured.
	Validate(ctx context.Context) Result
}

// Environment carries the collaborators shared by all providers.
type Environment struct {
	// Client performs backend requests; its Jar holds the session cookie.
	Client *http.Client
	// Storage persists provider owned keys (tokens, OAuth2 state).
	Storage storage.Storage
	Keys    storage.Keys
	// Location returns the current URL, used to detect OAuth2 callbacks.
	Location func() string
	// Headers returns extra request headers such as the CSRF token.
	Headers func(ctx context.Context) map[string]string
	// Normalizer maps external groups and roles to internal permissions.
	Normalizer *Normalizer
	Now        func() time.Time
}

func (e Environment) withDefaults() Environment {
	if e.Client == nil {
		jar, _ := cookiejar.New(nil)
		e.Client = &http.Client{Timeout: DefaultHTTPTimeout, Jar: jar}
	}

	if e.Storage == nil {
		e.Storage = memory.New()
	}

	if e.Location == nil {
		e.Location = func() string { return "" }
	}

	if e.Headers == nil {
		e.Headers = func(context.Context) map[string]string { return nil }
	}

	if e.Now == nil {
		e.Now = time.Now
	}

	return e
}

// Factory builds the provider described by cfg.
type Factory func(cfg ProviderConfig) (Provider, error)

// NewFactory returns the Factory building every built-in provider variant
// on top of env.
func NewFactory(env Environment) Factory {
	env = env.withDefaults()

	return func(cfg ProviderConfig) (Provider, error) {
		switch opts := cfg.Options.(type) {
		case SessionCookieConfig:
			return NewSessionCookieProvider(opts, env)
		case *SessionCookieConfig:
			return NewSessionCookieProvider(*opts, env)
		case LDAPConfig:
			return NewLDAPProvider(opts, env)
		case *LDAPConfig:
			return NewLDAPProvider(*opts, env)
		case OAuth2Config:
			return NewOAuth2Provider(opts, env)
		case *OAuth2Config:
			return NewOAuth2Provider(*opts, env)
		case SAMLConfig:
			return NewSAMLProvider(opts, env)
		case *SAMLConfig:
			return NewSAMLProvider(*opts, env)
		case JWTConfig:
			return NewJWTProvider(opts, env)
		case *JWTConfig:
			return NewJWTProvider(*opts, env)
		default:
			return nil, misconfigured("no options for provider %q", cfg.Type)
		}
	}
}
