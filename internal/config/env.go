package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every targeted environment override.
const EnvPrefix = "AUTHSESSION_"

// overrides are the targeted environment variables applied after the TOML
// file and the JSON override. Unset variables leave the config untouched.
type overrides struct {
	PreferredProvider  *string `env:"PREFERRED_PROVIDER"`
	BaseURL            *string `env:"BASE_URL"`
	LoginURL           *string `env:"LOGIN_URL"`
	LDAPEnabled        *bool   `env:"LDAP_ENABLED"`
	LDAPBindPassword   *string `env:"LDAP_BIND_PASSWORD"`
	OAuth2Enabled      *bool   `env:"OAUTH2_ENABLED"`
	OAuth2ClientSecret *string `env:"OAUTH2_CLIENT_SECRET"`
	SAMLEnabled        *bool   `env:"SAML_ENABLED"`
	JWTEnabled         *bool   `env:"JWT_ENABLED"`
	StorageDriver      *string `env:"STORAGE_DRIVER"`
	RedisAddr          *string `env:"REDIS_ADDR"`
	RedisPassword      *string `env:"REDIS_PASSWORD"`
	DBPassword         *string `env:"DB_PASSWORD"`
	LogLevel           *string `env:"LOG_LEVEL"`
	DevBackendSecret   *string `env:"DEVBACKEND_SECRET"`
}

func applyEnv(c *Config) error {
	var o overrides

	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, "failed to parse environment overrides")
	}

	set(&c.Auth.PreferredProvider, o.PreferredProvider)
	set(&c.Auth.BaseURL, o.BaseURL)
	set(&c.Auth.LoginURL, o.LoginURL)
	set(&c.Auth.LDAP.Enabled, o.LDAPEnabled)
	set(&c.Auth.LDAP.Directory.BindPassword, o.LDAPBindPassword)
	set(&c.Auth.OAuth2.Enabled, o.OAuth2Enabled)
	set(&c.Auth.OAuth2.ClientSecret, o.OAuth2ClientSecret)
	set(&c.Auth.SAML.Enabled, o.SAMLEnabled)
	set(&c.Auth.JWT.Enabled, o.JWTEnabled)
	set(&c.Storage.Driver, o.StorageDriver)
	set(&c.Storage.Redis.Addr, o.RedisAddr)
	set(&c.Storage.Redis.Password, o.RedisPassword)
	set(&c.DB.Password, o.DBPassword)
	set(&c.Log.LogLevel, o.LogLevel)
	set(&c.DevBackend.Secret, o.DevBackendSecret)

	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
