package devbackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

// Issuer is the iss claim of every access token.
const Issuer = "authsession-devbackend"

// ErrInvalidToken is returned for access tokens that fail verification.
var ErrInvalidToken = errors.New("invalid access token")

// accessClaims binds the identity claims to a backend session.
type accessClaims struct {
	token.Claims
	SessionID string `json:"sid"`
}

// issuer signs and verifies HS256 access tokens.
type issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (i *issuer) issue(u config.DevUser, sessionID string) (string, error) {
	now := i.now()

	claims := &accessClaims{
		Claims: token.Claims{
			Username:    u.Username,
			Email:       u.Email,
			Name:        u.DisplayName,
			Role:        u.Role,
			Permissions: u.Permissions,
			Groups:      u.Groups,
			Department:  u.Department,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   u.ID,
				ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ID:        ulid.Make().String(),
			},
		},
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

func (i *issuer) verify(raw string) (*accessClaims, error) {
	claims := &accessClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

func (i *issuer) expiresIn() int64 {
	return int64(i.ttl / time.Second)
}
