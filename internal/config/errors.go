package config

import (
	"errors"
)

var (
	// ErrNoStorageDriver error if config storage.driver is empty after defaults.
	ErrNoStorageDriver = errors.New("toml config storage.driver can not be empty")

	// ErrNoBaseURL error if an enabled provider has no backend base url.
	ErrNoBaseURL = errors.New("toml config auth base url can not be empty for an enabled provider")

	// ErrDuplicateDevUser error if two devbackend users share a username.
	ErrDuplicateDevUser = errors.New("toml config devbackend.users contains a duplicate username")

	// ErrDBEngineRequired error if a database backed feature is used without a gorm engine.
	ErrDBEngineRequired = errors.New("toml config db.gormengine is required by the storage driver or policy")
)
