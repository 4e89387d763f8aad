package config

// Gorm engines accepted in DB.GormEngine.
const (
	EngineMySQL    = "mysql"
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
)

// DB is the database of the policy tables and of the gorm and fiber storage
// drivers.
type DB struct {
	GormEngine string `validate:"omitempty,oneof=mysql postgres sqlite"`
	Host       string
	Port       int
	User       string
	Password   string
	Name       string // database name, file path for sqlite
	Extras     string // driver options appended to the DSN, e.g. "sslmode=disable"
}
