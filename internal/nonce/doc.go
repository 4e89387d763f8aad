// Package nonce generates cryptographically secure random strings used as
// single-use values: OAuth2 state parameters, CSRF tokens and opaque
// session identifiers handed out by the development backend.
package nonce
