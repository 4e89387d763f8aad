package config

import (
	"time"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode    bool   // enable dev mode for development
	Title      string // application title, used as log app name fallback
	Log        logger.Log
	Storage    Storage
	DB         DB
	Auth       Auth
	CSRF       CSRF
	DevBackend DevBackend
}

// Storage selects where session state is persisted.
type Storage struct {
	Driver    string `validate:"omitempty,oneof=memory sqlite gorm fiber-mysql fiber-postgres redis"` // storage backend
	Namespace string // prefix for every persisted key
	Path      string // sqlite database file
	Table     string // table name for sql backends
	Redis     Redis
}

// Redis holds the redis storage settings.
type Redis struct {
	Addr     string // host:port
	Password string // optional auth password
	DB       int    // database index
	Channel  string // pub/sub channel for change notifications
}

// Auth holds the session manager and provider settings.
type Auth struct {
	PreferredProvider string        `validate:"omitempty,oneof=session-cookie ldap oauth2 saml jwt"` // provider used for new logins
	BaseURL           string        // backend base url for providers without their own
	RefreshThreshold  time.Duration // refresh when the token expires within this window
	RefreshInterval   time.Duration // expiry check period
	HeartbeatInterval time.Duration // backend session validation period
	SessionTTL        time.Duration // fallback lifetime when the backend sends none
	LoginURL          string        // target of forced logout redirects
	PolicyFromDB      bool          // load roles and group mappings from the database
	SessionCookie     auth.SessionCookieConfig
	LDAP              auth.LDAPConfig
	OAuth2            auth.OAuth2Config
	SAML              auth.SAMLConfig
	JWT               auth.JWTConfig
	Roles             auth.RoleTable         // role name -> implied permissions, empty uses the built-in table
	PermissionMapping auth.PermissionMapping // resource -> action -> roles or groups
	GroupRoles        []auth.GroupRole       `validate:"dive"` // first matching group assigns the role
}

// CSRF selects where the anti-forgery token comes from.
type CSRF struct {
	MetaURL  string // page carrying the csrf meta tag
	MetaName string // meta tag name, default csrf-token
	Token    string // static token, used when MetaURL is empty
}

// DevBackend holds the settings of the bundled development backend.
type DevBackend struct {
	Listen     string        // listen address
	Secret     string        // HS256 signing key for issued tokens
	TokenTTL   time.Duration // access token lifetime
	RefreshTTL time.Duration // refresh token lifetime
	CookieName string        // session cookie name
	Users      []DevUser     `validate:"dive"`
}

// DevUser is an account known to the development backend.
type DevUser struct {
	ID          string   `validate:"required"`
	Username    string   `validate:"required"`
	Password    string   `validate:"required"` // argon2id hash
	TOTPSecret  string   // optional base32 totp secret
	Email       string   `validate:"omitempty,email"`
	DisplayName string   // human readable name
	Role        string   // internal role
	Groups      []string // external groups
	Department  string   // organisational unit
	Permissions []string // explicit grants
}
