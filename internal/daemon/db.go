package daemon

import (
	"errors"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/dsn"
)

// ErrUnknownEngine is returned for a gorm engine without a driver.
var ErrUnknownEngine = errors.New("unknown gorm engine")

// OpenDB opens the configured database.
func OpenDB(cfg config.DB) (*gorm.DB, error) {
	var dialector gorm.Dialector

	source := dsn.Create(cfg)

	switch strings.ToLower(cfg.GormEngine) {
	case config.EngineMySQL:
		dialector = gormmysql.Open(source) // open db with gorm mysql driver
	case config.EnginePostgres:
		dialector = gormpostgres.Open(source)
	case config.EngineSQLite:
		dialector = sqlite.Open(source)
	default:
		return nil, ErrUnknownEngine
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("engine", cfg.GormEngine).Str("name", cfg.Name).Msg("database opened")

	return db, nil
}

// openSQLite opens a sqlite database file.
func openSQLite(path string) (*gorm.DB, error) {
	return OpenDB(config.DB{GormEngine: config.EngineSQLite, Name: path})
}
