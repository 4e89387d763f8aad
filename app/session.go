package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/daemon"
	"github.com/GoPowerDNS-Admin/authsession/internal/session"
)

// ErrLoginFailed is returned when the provider rejected the login.
var ErrLoginFailed = errors.New("login failed")

// ErrNotAuthenticated is returned by commands requiring a session.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrPermissionDenied is returned by can when the check fails.
var ErrPermissionDenied = errors.New("permission denied")

var (
	provider string
	location string

	credentials auth.Credentials

	providersCmd = &cobra.Command{
		Use:     "providers",
		Short:   "List the enabled identity providers",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
				current := d.Registry.Current()

				for _, p := range d.Manager.AvailableProviders() {
					marker := " "
					if p.Type == current {
						marker = "*"
					}

					fmt.Fprintf(cmd.OutOrStdout(), "%s %-15s %s\n", marker, p.Type, p.Name)
				}

				return nil
			})
		},
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Log in with the active or the given provider",
		Long: `Log in with the active or the given provider.

OAuth2 and SAML logins print the identity provider URL to visit. The
callback is completed with --code/--state (OAuth2), --saml-response
(SAML) or by passing the callback URL with --location.`,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
				if d.Manager.AuthState().IsAuthenticated() {
					printState(cmd.OutOrStdout(), d.Manager)
					return nil
				}

				res := d.Manager.Login(ctx, credentials)

				switch {
				case res.Pending():
					fmt.Fprintln(cmd.OutOrStdout(), "Visit", res.RedirectURL)
					return nil
				case !res.Success:
					return fmt.Errorf("%w: %s", ErrLoginFailed, strings.Join(append([]string{res.Message}, res.Errors...), "; "))
				}

				printState(cmd.OutOrStdout(), d.Manager)

				return nil
			})
		},
	}

	statusCmd = &cobra.Command{
		Use:     "status",
		Short:   "Show the current session",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd, func(_ context.Context, d *daemon.Daemon) error {
				printState(cmd.OutOrStdout(), d.Manager)
				return nil
			})
		},
	}

	canCmd = &cobra.Command{
		Use:   "can <resource:action|resource action>...",
		Short: "Check permissions of the current user",
		Long: `Check permissions of the current user. With one argument containing
a colon every argument is a permission and all of them are required. Two
plain arguments are a resource and an action.`,
		Args:    cobra.RangeArgs(1, 16),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(cmd, func(_ context.Context, d *daemon.Daemon) error {
				var ok bool

				switch {
				case len(args) == 2 && !strings.Contains(args[0], ":"):
					ok = d.Manager.CanAccess(args[0], args[1])
				case anyOf:
					ok = d.Manager.HasAnyPermission(args...)
				default:
					ok = d.Manager.HasAllPermissions(args...)
				}

				if !ok {
					return ErrPermissionDenied
				}

				fmt.Fprintln(cmd.OutOrStdout(), "allowed")

				return nil
			})
		},
	}

	refreshCmd = &cobra.Command{
		Use:     "refresh",
		Short:   "Refresh the session token",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
				if !d.Manager.AuthState().IsAuthenticated() {
					return ErrNotAuthenticated
				}

				if res := d.Manager.RefreshToken(ctx); !res.Success {
					return fmt.Errorf("refresh failed: %s", res.Message)
				}

				printState(cmd.OutOrStdout(), d.Manager)

				return nil
			})
		},
	}

	logoutCmd = &cobra.Command{
		Use:     "logout",
		Short:   "End the session",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
				res := d.Manager.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)

				return nil
			})
		},
	}

	anyOf bool
)

func init() { //nolint: gochecknoinits
	for _, c := range []*cobra.Command{providersCmd, loginCmd, statusCmd, canCmd, refreshCmd, logoutCmd} {
		c.Flags().StringVar(&provider, "provider", "", "Provider to use (session-cookie, ldap, oauth2, saml, jwt)")
		c.Flags().StringVar(&location, "location", "", "Current URL, e.g. an OAuth2 callback")
	}

	loginCmd.Flags().StringVarP(&credentials.Username, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&credentials.Password, "password", "p", "", "Password")
	loginCmd.Flags().StringVar(&credentials.OTP, "otp", "", "One-time password")
	loginCmd.Flags().StringVar(&credentials.Code, "code", "", "OAuth2 authorization code")
	loginCmd.Flags().StringVar(&credentials.State, "state", "", "OAuth2 state")
	loginCmd.Flags().StringVar(&credentials.SAMLResponse, "saml-response", "", "SAML response")
	loginCmd.Flags().StringVar(&credentials.RelayState, "relay-state", "", "SAML relay state")

	canCmd.Flags().BoolVar(&anyOf, "any", false, "Require any instead of all permissions")

	rootCmd.AddCommand(providersCmd, loginCmd, statusCmd, canCmd, refreshCmd, logoutCmd)
}

// withDaemon runs fn on an initialized session manager.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := daemon.New(ctx, &cfg, daemon.Options{Location: func() string { return location }})
	if err != nil {
		return err
	}

	defer func() { _ = d.Close() }()

	if provider != "" && !d.Manager.SetProvider(auth.ProviderType(provider)) {
		return fmt.Errorf("provider %q is not enabled", provider)
	}

	if _, err = d.Manager.Initialize(ctx); err != nil {
		return err
	}

	// a persisted session switches back to its own provider
	if provider != "" && !d.Manager.AuthState().IsAuthenticated() {
		d.Manager.SetProvider(auth.ProviderType(provider))
	}

	return fn(ctx, d)
}

func printState(w io.Writer, m *session.Manager) {
	st := m.AuthState()

	fmt.Fprintf(w, "state:     %s\n", st.State)
	fmt.Fprintf(w, "provider:  %s\n", st.Provider)

	if !st.IsAuthenticated() {
		return
	}

	u := st.User

	fmt.Fprintf(w, "user:      %s (%s)\n", u.Username, u.ID)

	if u.DisplayName != "" {
		fmt.Fprintf(w, "name:      %s\n", u.DisplayName)
	}

	if u.Role != "" {
		fmt.Fprintf(w, "role:      %s\n", u.Role)
	}

	if len(u.Groups) > 0 {
		fmt.Fprintf(w, "groups:    %s\n", strings.Join(u.Groups, ", "))
	}

	if len(u.Permissions) > 0 {
		fmt.Fprintf(w, "granted:   %s\n", strings.Join(u.Permissions, ", "))
	}

	fmt.Fprintf(w, "remaining: %s\n", m.SessionTimeRemaining().Round(time.Second))

	if m.IsSessionExpiring() {
		fmt.Fprintln(w, "expiring:  yes")
	}
}
