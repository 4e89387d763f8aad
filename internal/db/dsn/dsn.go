// Package dsn builds database connection strings from the configuration.
package dsn

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
)

// Create builds the Data Source Name for the configured gorm engine.
// sqlite uses Name as the database file.
func Create(db config.DB) string {
	switch strings.ToLower(db.GormEngine) {
	case config.EnginePostgres:
		out := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			db.Host,
			db.Port,
			db.User,
			db.Password,
			db.Name,
		)

		if db.Extras != "" {
			out += " " + db.Extras
		}

		return out
	case config.EngineSQLite:
		return db.Name
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			db.User,
			db.Password,
			db.Host,
			db.Port,
			db.Name,
			db.Extras,
		)
	}
}

// URI builds the connection URI the gofiber storage drivers expect.
func URI(db config.DB) string {
	u := url.URL{
		User: url.UserPassword(db.User, db.Password),
		Host: fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path: "/" + db.Name,
	}

	switch strings.ToLower(db.GormEngine) {
	case config.EnginePostgres:
		u.Scheme = "postgres"
		u.RawQuery = db.Extras
	default:
		u.Scheme = "mysql"
		u.RawQuery = db.Extras
	}

	return u.String()
}
