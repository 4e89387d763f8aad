// Package fiberkv adapts gofiber storage drivers to storage.Storage.
package fiberkv

import (
	"context"
	"time"

	"github.com/gofiber/storage/mysql/v2"
	"github.com/gofiber/storage/postgres/v3"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// KV is the subset of the gofiber storage interface the adapter needs.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
	Close() error
}

// Store wraps a gofiber KV driver.
type Store struct {
	kv KV
}

// New wraps kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// NewMySQL opens a MySQL-backed store.
func NewMySQL(uri, table string) *Store {
	return New(mysql.New(mysql.Config{
		ConnectionURI: uri,
		Table:         table,
	}))
}

// NewPostgres opens a Postgres-backed store.
func NewPostgres(uri, table string) *Store {
	return New(postgres.New(postgres.Config{
		ConnectionURI: uri,
		Table:         table,
	}))
}

// Get implements storage.Storage. The drivers report a missing key as a
// nil value without an error.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.kv.Get(key)
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, storage.ErrNotFound
	}

	return v, nil
}

// Set implements storage.Storage. Entries never expire on their own.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return s.kv.Set(key, value, 0)
}

// Delete implements storage.Storage.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.kv.Delete(key)
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.kv.Close()
}
