package daemon

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/dsn"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/fiberkv"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/gormkv"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/memory"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage/redis"
)

// Storage drivers.
const (
	DriverMemory        = "memory"
	DriverSQLite        = "sqlite"
	DriverGorm          = "gorm"
	DriverFiberMySQL    = "fiber-mysql"
	DriverFiberPostgres = "fiber-postgres"
	DriverRedis         = "redis"
)

// openStorage returns the observable handle of this process on the
// configured storage. Redis reports writes of other processes; every other
// driver only those of other handles of the same hub.
func (d *Daemon) openStorage(ctx context.Context) (storage.Observable, error) {
	cfg := d.cfg.Storage

	var backend storage.Storage

	switch cfg.Driver {
	case DriverMemory, "":
		backend = memory.New()
	case DriverSQLite, DriverGorm:
		db, err := d.database(cfg.Driver == DriverSQLite)
		if err != nil {
			return nil, err
		}

		kv, err := gormkv.New(db, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("migrate storage table: %w", err)
		}

		backend = kv
	case DriverFiberMySQL:
		kv := fiberkv.NewMySQL(dsn.URI(d.cfg.DB), cfg.Table)
		d.closers = append(d.closers, kv.Close)
		backend = kv
	case DriverFiberPostgres:
		kv := fiberkv.NewPostgres(dsn.URI(d.cfg.DB), cfg.Table)
		d.closers = append(d.closers, kv.Close)
		backend = kv
	case DriverRedis:
		return d.openRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	tab := storage.NewHub(backend).Tab()
	d.closers = append(d.closers, tab.Close)

	return tab, nil
}

func (d *Daemon) openRedis(ctx context.Context, cfg config.Storage) (storage.Observable, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	st, err := redis.New(ctx, client, cfg.Redis.Channel)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	d.closers = append(d.closers, client.Close, st.Close)

	return st, nil
}
