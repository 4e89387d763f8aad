package auth

import (
	"slices"
	"time"
)

// ProviderType identifies a provider variant.
type ProviderType string

// Supported provider types.
const (
	ProviderSessionCookie ProviderType = "session-cookie"
	ProviderLDAP          ProviderType = "ldap"
	ProviderOAuth2        ProviderType = "oauth2"
	ProviderSAML          ProviderType = "saml"
	ProviderJWT           ProviderType = "jwt"
)

// ProviderTypes lists every supported provider type in registry order.
func ProviderTypes() []ProviderType {
	return []ProviderType{
		ProviderSessionCookie,
		ProviderLDAP,
		ProviderOAuth2,
		ProviderSAML,
		ProviderJWT,
	}
}

// Valid reports whether t is a supported provider type.
func (t ProviderType) Valid() bool {
	return slices.Contains(ProviderTypes(), t)
}

func (t ProviderType) String() string {
	return string(t)
}

// User is the normalized identity of an authenticated principal.
type User struct {
	// ID is the backend identifier of the user.
	ID string `json:"id" validate:"required"`
	// Username is the login name.
	Username string `json:"username" validate:"required"`
	// Email is the primary e-mail address.
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	// DisplayName is the human readable name.
	DisplayName string `json:"displayName,omitempty"`
	// Role is the internal role; it implies a fixed permission set.
	Role string `json:"role,omitempty"`
	// Permissions are explicit resource:action grants (set semantics).
	Permissions []string `json:"permissions,omitempty"`
	// Groups are the external groups the user belongs to.
	Groups []string `json:"groups,omitempty"`
	// Department is the organisational unit, if known.
	Department string `json:"department,omitempty"`
	// IsActive reports whether the account is enabled.
	IsActive bool `json:"isActive"`
	// LastLoginAt is the time of the last successful login.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	out := *u
	out.Permissions = slices.Clone(u.Permissions)
	out.Groups = slices.Clone(u.Groups)

	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}

	return &out
}

// Session is the token material bound to an authenticated user.
type Session struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	Provider     ProviderType
	CSRFToken    string
	SessionID    string
}

// Credentials carries every input a provider login may need. Providers read
// only the fields relevant to them.
type Credentials struct {
	Username string
	Password string
	// OTP is an optional second factor code.
	OTP string
	// Code and State are the OAuth2 callback parameters.
	Code  string
	State string
	// SAMLResponse and RelayState are the SAML POST binding parameters.
	SAMLResponse string
	RelayState   string
}

// Result is the normalized outcome of every provider operation.
type Result struct {
	Success      bool
	User         *User
	Token        string
	RefreshToken string
	ExpiresIn    time.Duration
	// RedirectURL hands control to an external identity provider. A result
	// with a redirect is never a completed login.
	RedirectURL string
	Message     string
	Errors      []string
	SessionID   string
	CSRFToken   string
	// Err is the classified cause of a failure.
	Err error
}

// Pending reports whether the result is a hand-off to an identity provider.
func (r Result) Pending() bool {
	return r.RedirectURL != ""
}

// Failure builds an unsuccessful result for err.
func Failure(err error, message string) Result {
	if message == "" && err != nil {
		message = err.Error()
	}

	return Result{Message: message, Err: err}
}

// Redirect builds a pending result.
func Redirect(url string) Result {
	return Result{RedirectURL: url, Message: "redirecting to identity provider"}
}

// ProviderConfig describes one configured provider. Options holds the
// variant specific configuration (SessionCookieConfig, LDAPConfig, ...).
type ProviderConfig struct {
	Type    ProviderType
	Name    string
	Enabled bool
	Options any
}
