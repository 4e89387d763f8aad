// Package config handles input from etc/*.toml files
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// EnvConfigJSON holds a JSON document merged over the TOML file.
const EnvConfigJSON = "AUTHSESSION_CONFIG_JSON"

// Defaults applied by validate.
const (
	DefaultStorageDriver     = "memory"
	DefaultNamespace         = "authsession:"
	DefaultTable             = "authsession_storage"
	DefaultRedisChannel      = "authsession:events"
	DefaultRefreshThreshold  = 15 * time.Minute
	DefaultDevBackendListen  = "127.0.0.1:8089"
	DefaultDevBackendTTL     = 15 * time.Minute
	DefaultDevBackendRefresh = 24 * time.Hour
	DefaultDevCookieName     = "authsession_dev"
)

// ReadConfig from config file.
func ReadConfig(path string) (Config, error) {
	var (
		c             Config
		JSONConfigEnv string
		err           error
	)

	// Read main configuration
	if path == "" {
		path = "./etc/"
	}

	if _, err = toml.DecodeFile(path+"main.toml", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	// override it from env
	JSONConfigEnv = os.Getenv(EnvConfigJSON)

	if JSONConfigEnv != "" {
		c, err = decodeAndMergeConfig(c, JSONConfigEnv)
		if err != nil {
			return c, err
		}
	}

	if err = applyEnv(&c); err != nil {
		return c, err
	}

	return c, validate(&c)
}

func decodeAndMergeConfig(c Config, configAsJSON string) (Config, error) {
	err := json.Unmarshal([]byte(configAsJSON), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	return c, nil
}

// DumpConfig config as TOML String.
func DumpConfig(c *Config) (string, error) {
	var buffer bytes.Buffer
	t := toml.NewEncoder(&buffer)

	if err := t.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// DumpConfigJSON config as JSON String.
func DumpConfigJSON(c *Config) (string, error) {
	var buffer bytes.Buffer
	j := json.NewEncoder(&buffer)
	j.SetIndent("", "  ")

	if err := j.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// validate fills defaults and checks the settings the daemon depends on.
// Provider paths and credentials are checked by the providers themselves.
func validate(c *Config) error {
	invalidErrMessage := "invalid config"

	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, invalidErrMessage)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}

	if c.Storage.Namespace == "" {
		c.Storage.Namespace = DefaultNamespace
	}

	if c.Storage.Table == "" {
		c.Storage.Table = DefaultTable
	}

	if c.Storage.Redis.Channel == "" {
		c.Storage.Redis.Channel = DefaultRedisChannel
	}

	if (c.Storage.Driver == "gorm" || c.Auth.PolicyFromDB) && c.DB.GormEngine == "" {
		return errors.Wrap(ErrDBEngineRequired, invalidErrMessage)
	}

	if c.Auth.RefreshThreshold == 0 {
		c.Auth.RefreshThreshold = DefaultRefreshThreshold
	}

	for _, pc := range c.Auth.ProviderConfigs() {
		if pc.Enabled && missingBaseURL(pc.Options) {
			return errors.Wrapf(ErrNoBaseURL, "%s: provider %s", invalidErrMessage, pc.Type)
		}
	}

	return validateDevBackend(&c.DevBackend)
}

func validateDevBackend(d *DevBackend) error {
	if d.Listen == "" {
		d.Listen = DefaultDevBackendListen
	}

	if d.TokenTTL == 0 {
		d.TokenTTL = DefaultDevBackendTTL
	}

	if d.RefreshTTL == 0 {
		d.RefreshTTL = DefaultDevBackendRefresh
	}

	if d.CookieName == "" {
		d.CookieName = DefaultDevCookieName
	}

	seen := make(map[string]bool, len(d.Users))

	for _, u := range d.Users {
		if seen[u.Username] {
			return errors.Wrapf(ErrDuplicateDevUser, "invalid config: %s", u.Username)
		}

		seen[u.Username] = true
	}

	return nil
}
