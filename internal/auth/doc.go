// Package auth contains the provider-independent authentication model.
//
// It defines the normalized data types shared by every identity backend
// (User, Session, Credentials, Result), the error taxonomy, and the
// authorization rules used to evaluate permissions.
//
// # Providers
//
// Every backend is reached through the Provider interface. The supported
// variants are:
//   - SessionCookie: a backend that keeps its own server-side session and
//     identifies it with a cookie.
//   - LDAP: credentials are verified by a backend proxy or, optionally,
//     directly against an LDAP/Active Directory server.
//   - OAuth2: authorization code flow with a single-use state nonce; the
//     code is exchanged by the backend callback endpoint.
//   - SAML: redirect to the identity provider entry point; the assertion is
//     posted back to the backend Assertion Consumer Service.
//   - JWT: credentials are exchanged for an access/refresh token pair.
//
// Providers never panic and never return errors across their boundary:
// every outcome is a Result. Result.Err carries the classified cause and
// Kind maps it to one of the error classes.
//
// # Registry
//
// Registry builds every enabled provider from its ProviderConfig and tracks
// the single active one. A provider that fails to build stays selectable
// and reports ErrProviderMisconfigured; no other provider is substituted.
//
// # Authorization
//
// Evaluator answers permission questions from a user's explicit permissions
// combined with the permissions implied by the user's role:
//
//	ev := auth.NewEvaluator(auth.DefaultRoleTable())
//	ev.HasPermission(user, auth.PermDemandasView)
//	ev.CanAccess(user, auth.ResourceSistema, auth.ActionAdmin)
//
// External roles and groups (LDAP groups, OAuth2 claims, SAML attributes)
// are normalized into internal permissions by a Normalizer built from a
// PermissionMapping and an ordered list of GroupRole rules.
package auth
