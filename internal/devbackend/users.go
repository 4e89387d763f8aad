package devbackend

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/config"
)

const argon2idPrefix = "$argon2id$"

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrOTPRequired is returned when the account has a second factor and none was sent.
	ErrOTPRequired = errors.New("one-time password required")
	// ErrInvalidOTP is returned for a wrong or stale one-time password.
	ErrInvalidOTP = errors.New("invalid one-time password")
)

// HashPassword returns the argon2id hash to put into DevUser.Password.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams) //nolint:wrapcheck
}

// directory holds the configured accounts by lower-cased username.
type directory struct {
	users map[string]config.DevUser
}

func newDirectory(users []config.DevUser) *directory {
	d := &directory{users: make(map[string]config.DevUser, len(users))}

	for _, u := range users {
		if !strings.HasPrefix(u.Password, argon2idPrefix) {
			log.Warn().Str("user", u.Username).Msg("dev backend user has a plain text password")
		}

		d.users[strings.ToLower(u.Username)] = u
	}

	return d
}

func (d *directory) lookup(username string) (config.DevUser, bool) {
	u, ok := d.users[strings.ToLower(stripDomain(username))]
	return u, ok
}

// verify checks password and, for accounts with a TOTP secret, the code.
func (d *directory) verify(username, password, code string) (config.DevUser, error) {
	u, ok := d.lookup(username)
	if !ok || !checkPassword(u.Password, password) {
		return config.DevUser{}, ErrInvalidCredentials
	}

	if u.TOTPSecret == "" {
		return u, nil
	}

	if code == "" {
		return config.DevUser{}, ErrOTPRequired
	}

	if !totp.Validate(code, u.TOTPSecret) {
		return config.DevUser{}, ErrInvalidOTP
	}

	return u, nil
}

func checkPassword(stored, password string) bool {
	if !strings.HasPrefix(stored, argon2idPrefix) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
	}

	match, err := argon2id.ComparePasswordAndHash(password, stored)
	if err != nil {
		log.Warn().Err(err).Msg("failed to compare password hash")
		return false
	}

	return match
}

// stripDomain removes an Active Directory DOMAIN\ prefix.
func stripDomain(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		return username[i+1:]
	}

	return username
}

func profile(u config.DevUser) *auth.User {
	return &auth.User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Permissions: append([]string(nil), u.Permissions...),
		Groups:      append([]string(nil), u.Groups...),
		Department:  u.Department,
		IsActive:    true,
	}
}
