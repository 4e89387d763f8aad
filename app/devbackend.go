package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoPowerDNS-Admin/authsession/internal/devbackend"
)

var (
	devBackendListen string

	devBackendCmd = &cobra.Command{
		Use:   "devbackend",
		Short: "Start the development backend",
		Long: `Start the development backend. It implements the session, LDAP,
OAuth2, SAML and JWT endpoints for the users configured in [DevBackend].
It is not an identity provider for production use.`,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if devBackendListen != "" {
				cfg.DevBackend.Listen = devBackendListen
			}

			s, err := devbackend.New(cfg.DevBackend, cfg.Auth.RoleTable(), cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return s.Start(ctx)
		},
	}

	hashCmd = &cobra.Command{
		Use:   "hash <password>",
		Short: "Print the argon2id hash of a development user password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := devbackend.HashPassword(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)

			return nil
		},
	}
)

func init() { //nolint: gochecknoinits
	devBackendCmd.Flags().StringVar(&devBackendListen, "listen", "", "Listen address, overrides DevBackend.Listen")
	devBackendCmd.AddCommand(hashCmd)

	rootCmd.AddCommand(devBackendCmd)
}
