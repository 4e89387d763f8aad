// Package token decodes bearer tokens issued by the authentication backends.
//
// Signatures are NOT verified here: tokens reach this layer from a trusted
// backend and are only inspected for identity claims and expiry.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultThreshold is how far ahead of expiry a session counts as expiring.
const DefaultThreshold = 15 * time.Minute

// ErrMalformed is returned for tokens that cannot be decoded as a JWT.
var ErrMalformed = errors.New("token is malformed")

// Claims are the identity claims the backends put into access tokens.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	Department  string   `json:"department,omitempty"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser() //nolint:gochecknoglobals

// Parse decodes the claims of raw without verifying its signature.
func Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return claims, nil
}

// IsJWT reports whether raw decodes as a JWT.
func IsJWT(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Shaped reports whether raw has the three dot separated segments of a
// JWT, whether or not they decode.
func Shaped(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}

	for _, p := range parts[:2] {
		if p == "" {
			return false
		}
	}

	return true
}

// ExpiresAt returns the exp claim of raw. A token without exp yields the zero time.
func ExpiresAt(raw string) (time.Time, error) {
	claims, err := Parse(raw)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}

	return claims.ExpiresAt.Time, nil
}

// IsSessionExpiring reports whether raw expires in less than threshold.
// An undecodable token is always treated as expiring; a token without exp never is.
func IsSessionExpiring(raw string, now time.Time, threshold time.Duration) bool {
	exp, err := ExpiresAt(raw)
	if err != nil {
		return true
	}

	return Expiring(exp, now, threshold)
}

// Expiring reports whether exp lies less than threshold after now.
// The zero time means "no known expiry".
func Expiring(exp, now time.Time, threshold time.Duration) bool {
	if exp.IsZero() {
		return false
	}

	return exp.Sub(now) < threshold
}
