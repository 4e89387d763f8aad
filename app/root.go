// Package app implements the main application commands.
package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/logger"
)

// DefaultConfigPath is the directory holding main.toml.
const DefaultConfigPath = "./etc/"

var (
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "authsession",
		Short: "authsession keeps an authenticated session against a backend",
		Long: `authsession logs in through one of several identity providers
(session cookie, LDAP, OAuth2, SAML, JWT), keeps the token fresh and answers
permission checks. Every invocation shares the session kept in the configured
storage.`,
		Args:          cobra.OnlyValidArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().String("config", DefaultConfigPath, "Directory containing main.toml")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("AUTHSESSION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindEnv("config", "AUTHSESSION_CONFIG_PATH")
}

// loadConfig reads the configuration and initialises the logger.
func loadConfig(_ *cobra.Command, _ []string) error {
	path := viper.GetString("config")
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}

	c, err := config.ReadConfig(path)
	if err != nil {
		return err
	}

	if level := viper.GetString("log-level"); level != "" {
		c.Log.LogLevel = level
	}

	if err = logger.Init(c.Log); err != nil {
		return err
	}

	cfg = c

	log.Debug().Str("path", path).Msg("configuration loaded")

	return nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		rootCmd.PrintErrln("Error:", err)
	}

	return err
}
