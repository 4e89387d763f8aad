// Package daemon wires configuration, storage, providers and the session
// manager of one process.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"slices"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/csrf"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/controller/policy"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/models"
	"github.com/GoPowerDNS-Admin/authsession/internal/session"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// ErrConfigNil is returned when no configuration is given.
var ErrConfigNil = errors.New("config is nil")

// Options customise the wiring, mostly for tests.
type Options struct {
	// Client replaces the HTTP client shared by providers and the csrf page.
	Client *http.Client
	// Storage replaces the configured storage driver.
	Storage storage.Observable
	// Location returns the current URL, e.g. an OAuth2 callback.
	Location func() string
}

// Daemon represents one session "tab" of the application.
type Daemon struct {
	Manager  *session.Manager
	Registry *auth.Registry
	Storage  storage.Observable
	Keys     storage.Keys

	cfg     *config.Config
	db      *gorm.DB
	closers []func() error
}

// New creates a new Daemon instance with the provided configuration. The
// manager is not initialized.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	d := &Daemon{
		cfg:  cfg,
		Keys: storage.Keys{Namespace: cfg.Storage.Namespace},
	}

	if err := d.wire(ctx, opts); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) wire(ctx context.Context, opts Options) error {
	st := opts.Storage
	if st == nil {
		var err error

		if st, err = d.openStorage(ctx); err != nil {
			return err
		}
	}

	d.Storage = st

	roles, groupRoles, err := d.policy()
	if err != nil {
		return err
	}

	client := opts.Client
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: auth.DefaultHTTPTimeout, Jar: jar}
	}

	cache := csrf.New(st, d.Keys, d.csrfSource(client))

	env := auth.Environment{
		Client:     client,
		Storage:    st,
		Keys:       d.Keys,
		Location:   opts.Location,
		Normalizer: &auth.Normalizer{Mapping: d.cfg.Auth.PermissionMapping, GroupRoles: groupRoles},
		Headers: func(ctx context.Context) map[string]string {
			if d.Manager == nil {
				return cache.Headers(ctx, "")
			}

			h := d.Manager.AuthHeaders(ctx)
			delete(h, "Authorization")

			return h
		},
	}

	d.Registry = auth.NewRegistry(
		d.cfg.Auth.ProviderConfigs(),
		auth.ProviderType(d.cfg.Auth.PreferredProvider),
		auth.NewFactory(env),
	)

	d.Manager, err = session.New(session.Options{
		Registry:          d.Registry,
		Storage:           st,
		Keys:              d.Keys,
		Evaluator:         auth.NewEvaluator(roles),
		CSRF:              cache,
		RefreshThreshold:  d.cfg.Auth.RefreshThreshold,
		RefreshInterval:   d.cfg.Auth.RefreshInterval,
		HeartbeatInterval: d.cfg.Auth.HeartbeatInterval,
		SessionTTL:        d.cfg.Auth.SessionTTL,
		LoginURL:          d.cfg.Auth.LoginURL,
		Location:          opts.Location,
	})
	if err != nil {
		return err
	}

	d.closers = append(d.closers, d.Manager.Close)

	log.Debug().
		Str("storage", d.cfg.Storage.Driver).
		Str("provider", d.Registry.Current().String()).
		Int("providers", len(d.Registry.AvailableProviders())).
		Msg("session manager wired")

	return nil
}

// policy returns the role table and group mappings, read from the database
// when configured. The configured policy seeds an empty database.
func (d *Daemon) policy() (auth.RoleTable, []auth.GroupRole, error) {
	roles, groupRoles := d.cfg.Auth.RoleTable(), d.cfg.Auth.GroupRoles

	if !d.cfg.Auth.PolicyFromDB {
		return roles, groupRoles, nil
	}

	db, err := d.database(false)
	if err != nil {
		return nil, nil, err
	}

	if err = policy.Migrate(db); err != nil {
		return nil, nil, err
	}

	if err = policy.Seed(db, roles, groupRoles, models.GroupSourceAny); err != nil {
		return nil, nil, err
	}

	p, err := policy.Load(db)
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Int("roles", len(p.Roles)).Int("groups", len(p.GroupRoles)).Msg("policy loaded from database")

	return p.Roles, p.GroupRoles, nil
}

// database opens the configured database once. With sqliteFile the storage
// path is opened instead.
func (d *Daemon) database(sqliteFile bool) (*gorm.DB, error) {
	if sqliteFile {
		return d.track(openSQLite(d.cfg.Storage.Path))
	}

	if d.db != nil {
		return d.db, nil
	}

	db, err := d.track(OpenDB(d.cfg.DB))
	if err != nil {
		return nil, err
	}

	d.db = db

	return db, nil
}

// track registers the connection pool of db for Close.
func (d *Daemon) track(db *gorm.DB, err error) (*gorm.DB, error) {
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	d.closers = append(d.closers, sqlDB.Close)

	return db, nil
}

func (d *Daemon) csrfSource(client *http.Client) csrf.MetaSource {
	switch {
	case d.cfg.CSRF.MetaURL != "":
		return csrf.Page{URL: d.cfg.CSRF.MetaURL, Name: d.cfg.CSRF.MetaName, Client: client}
	case d.cfg.CSRF.Token != "":
		return csrf.Static(d.cfg.CSRF.Token)
	default:
		return nil
	}
}

// Close releases everything New acquired, last acquired first.
func (d *Daemon) Close() error {
	var errs []error

	for _, c := range slices.Backward(d.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	d.closers = nil

	return errors.Join(errs...)
}
