package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
)

// DirectoryConfig holds the settings for verifying credentials directly
// against an LDAP/Active Directory server.
type DirectoryConfig struct {
	// Enabled selects direct verification instead of the backend proxy.
	Enabled bool
	// Host is the LDAP server hostname or IP address.
	Host string
	// Port is the LDAP server port (typically 389 for LDAP, 636 for LDAPS).
	Port int
	// UseSSL enables LDAPS (LDAP over SSL/TLS).
	UseSSL bool
	// UseTLS enables StartTLS to upgrade an LDAP connection to TLS.
	UseTLS bool
	// SkipVerify skips TLS certificate verification (insecure, for testing only).
	SkipVerify bool
	// BindDN is the distinguished name to bind with for performing searches.
	BindDN string
	// BindPassword is the password for the bind DN.
	BindPassword string
	// BaseDN is the base distinguished name for user searches.
	BaseDN string
	// UserFilter is the LDAP filter for finding users (e.g., "(uid={username})").
	UserFilter string
	// GroupBaseDN is the base distinguished name for group searches.
	GroupBaseDN string
	// GroupFilter is the LDAP filter for finding groups (e.g., "(member={userdn})").
	GroupFilter string
	// UsernameAttr is the attribute containing the username (e.g., "uid", "sAMAccountName").
	UsernameAttr string
	// EmailAttr is the attribute containing the email address.
	EmailAttr string
	// DisplayNameAttr is the attribute containing the display name.
	DisplayNameAttr string
	// DepartmentAttr is the attribute containing the organisational unit.
	DepartmentAttr string
	// GroupNameAttr is the attribute containing the group name (e.g., "cn").
	GroupNameAttr string
	// Timeout is the connection timeout in seconds.
	Timeout int
	// SessionTTL is the lifetime of a directory verified session.
	SessionTTL time.Duration
}

// Directory verifies users with bind/search against an LDAP server.
type Directory struct {
	config DirectoryConfig
	dial   func(cfg DirectoryConfig) (ldapConn, error)
}

// ldapConn is the subset of *ldap.Conn the directory uses.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// NewDirectory validates cfg and applies attribute defaults.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Host == "" || cfg.BaseDN == "" || cfg.UserFilter == "" {
		return nil, misconfigured("directory needs host, base dn and user filter")
	}

	if cfg.Port == 0 {
		cfg.Port = 389
		if cfg.UseSSL {
			cfg.Port = 636
		}
	}

	if cfg.UsernameAttr == "" {
		cfg.UsernameAttr = "uid"
	}

	if cfg.EmailAttr == "" {
		cfg.EmailAttr = "mail"
	}

	if cfg.DisplayNameAttr == "" {
		cfg.DisplayNameAttr = "displayName"
	}

	if cfg.DepartmentAttr == "" {
		cfg.DepartmentAttr = "department"
	}

	if cfg.GroupNameAttr == "" {
		cfg.GroupNameAttr = "cn"
	}

	if cfg.GroupFilter == "" {
		cfg.GroupFilter = "(member={userdn})"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10
	}

	return &Directory{config: cfg, dial: connect}, nil
}

func (d *Directory) sessionTTL() time.Duration {
	if d.config.SessionTTL > 0 {
		return d.config.SessionTTL
	}

	return DefaultDirectorySessionTTL
}

// connect establishes a connection to the LDAP server.
func connect(cfg DirectoryConfig) (ldapConn, error) {
	hostPort := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	ldapURL := "ldap://" + hostPort
	if cfg.UseSSL {
		ldapURL = "ldaps://" + hostPort
	}

	var tlsConfig *tls.Config
	if cfg.UseSSL || cfg.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify, //nolint:gosec // explicitly configured
			ServerName:         cfg.Host,
		}
	}

	conn, err := ldap.DialURL(ldapURL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to LDAP server: %w", ErrNetwork, err)
	}

	if !cfg.UseSSL && cfg.UseTLS {
		if errStartTLS := conn.StartTLS(tlsConfig); errStartTLS != nil {
			if errClose := conn.Close(); errClose != nil {
				log.Error().Err(errClose).Msg("failed to close LDAP connection")
			}

			return nil, fmt.Errorf("%w: failed to start TLS: %w", ErrNetwork, errStartTLS)
		}
	}

	conn.SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	return conn, nil
}

// Authenticate verifies username/password and returns the directory user.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	if password == "" {
		// an empty password would be an unauthenticated bind
		return nil, ErrInvalidCredentials
	}

	return d.withConn(ctx, func(conn ldapConn) (*User, error) {
		entry, err := d.searchUserEntry(conn, username)
		if err != nil {
			return nil, err
		}

		if err = conn.Bind(entry.DN, password); err != nil {
			return nil, bindError(err)
		}

		if err = d.bindService(conn); err != nil {
			return nil, err
		}

		return d.userFromEntry(conn, entry)
	})
}

// Lookup returns the directory user without verifying a password.
func (d *Directory) Lookup(ctx context.Context, username string) (*User, error) {
	return d.withConn(ctx, func(conn ldapConn) (*User, error) {
		entry, err := d.searchUserEntry(conn, username)
		if err != nil {
			return nil, err
		}

		return d.userFromEntry(conn, entry)
	})
}

// TestConnection tests the LDAP server connection and bind credentials.
func (d *Directory) TestConnection(ctx context.Context) error {
	_, err := d.withConn(ctx, func(ldapConn) (*User, error) { return nil, nil })
	return err
}

func (d *Directory) withConn(ctx context.Context, fn func(conn ldapConn) (*User, error)) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	conn, err := d.dial(d.config)
	if err != nil {
		return nil, err
	}

	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Warn().Err(errClose).Msg("failed to close LDAP connection")
		}
	}()

	if err = d.bindService(conn); err != nil {
		return nil, err
	}

	return fn(conn)
}

// bindService binds with the configured service account, if any.
func (d *Directory) bindService(conn ldapConn) error {
	if d.config.BindDN == "" {
		return nil
	}

	if err := conn.Bind(d.config.BindDN, d.config.BindPassword); err != nil {
		if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
			return fmt.Errorf("%w: failed to bind with service account: %w", ErrNetwork, err)
		}

		return misconfigured("failed to bind with service account: %v", err)
	}

	return nil
}

// searchUserEntry searches for username and returns a single entry.
func (d *Directory) searchUserEntry(conn ldapConn, username string) (*ldap.Entry, error) {
	username = stripDomain(username)
	userFilter := strings.ReplaceAll(d.config.UserFilter, "{username}", ldap.EscapeFilter(username))

	searchRequest := ldap.NewSearchRequest(
		d.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		d.config.Timeout,
		false,
		userFilter,
		[]string{
			d.config.UsernameAttr,
			d.config.EmailAttr,
			d.config.DisplayNameAttr,
			d.config.DepartmentAttr,
			"dn",
		},
		nil,
	)

	searchResult, err := conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search for user: %w", ErrNetwork, err)
	}

	switch len(searchResult.Entries) {
	case 0:
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrUserNotFound)
	case 1:
		return searchResult.Entries[0], nil
	default:
		return nil, ErrMultipleUsersFound
	}
}

func (d *Directory) userFromEntry(conn ldapConn, entry *ldap.Entry) (*User, error) {
	groups, err := d.userGroups(conn, entry.DN)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:          entry.DN,
		Username:    entry.GetAttributeValue(d.config.UsernameAttr),
		Email:       entry.GetAttributeValue(d.config.EmailAttr),
		DisplayName: entry.GetAttributeValue(d.config.DisplayNameAttr),
		Department:  entry.GetAttributeValue(d.config.DepartmentAttr),
		Groups:      groups,
		IsActive:    true,
	}

	if err = validate.Struct(u); err != nil {
		return nil, fmt.Errorf("%w: directory entry %s: %w", ErrMalformedResponse, entry.DN, err)
	}

	return u, nil
}

// userGroups retrieves the names of all groups the user belongs to.
func (d *Directory) userGroups(conn ldapConn, userDN string) ([]string, error) {
	if d.config.GroupBaseDN == "" {
		return nil, nil
	}

	groupFilter := strings.ReplaceAll(d.config.GroupFilter, "{userdn}", ldap.EscapeFilter(userDN))
	searchRequest := ldap.NewSearchRequest(
		d.config.GroupBaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		d.config.Timeout,
		false,
		groupFilter,
		[]string{d.config.GroupNameAttr, "dn"},
		nil,
	)

	searchResult, err := conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search for groups: %w", ErrNetwork, err)
	}

	groups := make([]string, 0, len(searchResult.Entries))

	for _, entry := range searchResult.Entries {
		name := entry.GetAttributeValue(d.config.GroupNameAttr)
		if name == "" {
			name = entry.DN
		}

		groups = append(groups, name)
	}

	return groups, nil
}

func bindError(err error) error {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	var lerr *ldap.Error
	if errors.As(err, &lerr) && lerr.ResultCode == ldap.ErrorNetwork {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return fmt.Errorf("%w: authentication failed: %w", ErrInvalidCredentials, err)
}

// stripDomain removes a DOMAIN\ prefix; the directory searches bare names.
func stripDomain(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		return username[i+1:]
	}

	return username
}
