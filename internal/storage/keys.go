package storage

// Keys names every session-related storage key under one namespace.
type Keys struct {
	Namespace string
}

// Session holds the serialized user/expiry/csrf blob.
func (k Keys) Session() string { return k.Namespace + "auth_user" }

// CSRF holds the cached anti-forgery token and its expiry.
func (k Keys) CSRF() string { return k.Namespace + "csrf_token" }

// OAuth2State holds the ephemeral OAuth2 state nonce.
func (k Keys) OAuth2State() string { return k.Namespace + "oauth2_state" }

// Token holds the access token of bearer-token providers.
func (k Keys) Token() string { return k.Namespace + "auth_token" }

// RefreshToken holds the refresh token of bearer-token providers.
func (k Keys) RefreshToken() string { return k.Namespace + "auth_refresh_token" }

// DirectorySession binds a directory verified session token to its user.
func (k Keys) DirectorySession() string { return k.Namespace + "auth_directory_session" }

// ReturnTo holds the destination to restore after a forced re-login.
func (k Keys) ReturnTo() string { return k.Namespace + "auth_return_to" }

// All returns every session-related key; logout clears all of them.
func (k Keys) All() []string {
	return []string{
		k.Session(),
		k.CSRF(),
		k.OAuth2State(),
		k.Token(),
		k.RefreshToken(),
		k.DirectorySession(),
	}
}
