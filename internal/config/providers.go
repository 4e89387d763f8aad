package config

import (
	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
)

// ProviderConfigs returns the registry configuration in registry order. The
// session-cookie provider is always enabled; the others follow their
// Enabled flag. Providers without a BaseURL inherit Auth.BaseURL.
func (a *Auth) ProviderConfigs() []auth.ProviderConfig {
	sc := a.SessionCookie
	sc.BaseURL = or(sc.BaseURL, a.BaseURL)

	ldap := a.LDAP
	ldap.BaseURL = or(ldap.BaseURL, a.BaseURL)

	oauth2 := a.OAuth2
	oauth2.BaseURL = or(oauth2.BaseURL, a.BaseURL)

	saml := a.SAML
	saml.BaseURL = or(saml.BaseURL, a.BaseURL)

	jwt := a.JWT
	jwt.BaseURL = or(jwt.BaseURL, a.BaseURL)

	return []auth.ProviderConfig{
		{Type: auth.ProviderSessionCookie, Name: "Session", Enabled: true, Options: sc},
		{Type: auth.ProviderLDAP, Name: "LDAP", Enabled: ldap.Enabled, Options: ldap},
		{Type: auth.ProviderOAuth2, Name: "OAuth2", Enabled: oauth2.Enabled, Options: oauth2},
		{Type: auth.ProviderSAML, Name: "SAML", Enabled: saml.Enabled, Options: saml},
		{Type: auth.ProviderJWT, Name: "JWT", Enabled: jwt.Enabled, Options: jwt},
	}
}

// RoleTable returns the configured roles, or the built-in table when none
// are configured.
func (a *Auth) RoleTable() auth.RoleTable {
	if len(a.Roles) == 0 {
		return auth.DefaultRoleTable()
	}

	return a.Roles.Clone()
}

// Normalizer builds the group and role mapping applied to provider users.
func (a *Auth) Normalizer() *auth.Normalizer {
	return &auth.Normalizer{Mapping: a.PermissionMapping, GroupRoles: a.GroupRoles}
}

// missingBaseURL reports whether the provider options lack a backend. An
// LDAP provider verifying against a directory needs none.
func missingBaseURL(options any) bool {
	switch o := options.(type) {
	case auth.SessionCookieConfig:
		return o.BaseURL == ""
	case auth.LDAPConfig:
		return o.BaseURL == "" && !o.Directory.Enabled
	case auth.OAuth2Config:
		return o.BaseURL == ""
	case auth.SAMLConfig:
		return o.BaseURL == ""
	case auth.JWTConfig:
		return o.BaseURL == ""
	default:
		return true
	}
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}
