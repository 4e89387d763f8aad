package auth

import (
	"errors"

	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects the presented credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNetwork is returned when a backend could not be reached or answered with a server error.
	ErrNetwork = errors.New("network error")

	// ErrTokenMalformed is returned when a token cannot be decoded.
	ErrTokenMalformed = token.ErrMalformed

	// ErrSessionExpired is returned when the backend no longer recognizes the session.
	ErrSessionExpired = errors.New("session expired")

	// ErrProviderMisconfigured is returned when required provider configuration is missing or invalid.
	ErrProviderMisconfigured = errors.New("provider misconfigured")

	// ErrMalformedResponse is returned when a backend answer does not match the expected schema.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrRefreshUnsupported is returned when the provider cannot refresh its session.
	ErrRefreshUnsupported = errors.New("refresh not supported")

	// ErrStateMismatch is returned when the OAuth2 callback state is missing, expired or does not match.
	ErrStateMismatch = errors.New("oauth2 state mismatch")

	// ErrProviderDisabled is returned when selecting a provider that is not enabled.
	ErrProviderDisabled = errors.New("provider is not enabled")

	// ErrNoIDToken is returned when the OAuth2 token response doesn't contain an ID token.
	ErrNoIDToken = errors.New("no id_token in token response")

	// ErrUserNotFound is returned when a user cannot be found in the directory.
	ErrUserNotFound = errors.New("user not found")

	// ErrMultipleUsersFound is returned when a query expected one user but found multiple.
	// This typically indicates a misconfigured LDAP filter or duplicate entries.
	ErrMultipleUsersFound = errors.New("multiple users found")
)

// ErrorKind is the class of an authentication failure.
type ErrorKind int

// Error classes.
const (
	KindNone ErrorKind = iota
	KindCredential
	KindNetwork
	KindTokenMalformed
	KindSessionExpired
	KindMisconfigured
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCredential:
		return "credential"
	case KindNetwork:
		return "network"
	case KindTokenMalformed:
		return "token-malformed"
	case KindSessionExpired:
		return "session-expired"
	case KindMisconfigured:
		return "provider-misconfigured"
	default:
		return "unknown"
	}
}

// Kind classifies err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrProviderMisconfigured),
		errors.Is(err, ErrProviderDisabled),
		errors.Is(err, ErrNoIDToken):
		return KindMisconfigured
	case errors.Is(err, ErrTokenMalformed):
		return KindTokenMalformed
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrRefreshUnsupported):
		return KindSessionExpired
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrStateMismatch),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrMultipleUsersFound):
		return KindCredential
	default:
		return KindUnknown
	}
}
