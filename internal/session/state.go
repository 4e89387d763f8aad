package session

import "github.com/GoPowerDNS-Admin/authsession/internal/auth"

// State is the position of a Manager in the session life cycle.
type State int

const (
	// Unauthenticated is the initial state and the state after any logout.
	Unauthenticated State = iota
	// Authenticating while a provider initializes or logs in.
	Authenticating
	// Authenticated while a confirmed session is held.
	Authenticated
	// Refreshing while the session token is renewed.
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// AuthState is a snapshot of the session as seen by the application.
type AuthState struct {
	State    State
	User     *auth.User
	Session  *auth.Session
	Provider auth.ProviderType
}

// IsAuthenticated reports whether a user is logged in. A session being
// refreshed is still authenticated.
func (a AuthState) IsAuthenticated() bool {
	return a.User != nil
}

// IsLoading reports whether a provider call is in progress.
func (a AuthState) IsLoading() bool {
	return a.State == Authenticating || a.State == Refreshing
}
