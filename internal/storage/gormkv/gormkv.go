// Package gormkv stores session keys in a SQL table through gorm.
package gormkv

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GoPowerDNS-Admin/authsession/internal/db/models"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrKeyEmpty is returned when a key is empty.
	ErrKeyEmpty = errors.New("storage key cannot be empty")
)

// Store implements storage.Storage on a gorm connection.
type Store struct {
	db    *gorm.DB
	table string
}

// New creates a store using table (models.StorageEntry's table when empty)
// and migrates its schema.
func New(db *gorm.DB, table string) (*Store, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	if table == "" {
		table = models.StorageEntry{}.TableName()
	}

	s := &Store{db: db, table: table}
	if err := s.tx(context.Background()).AutoMigrate(&models.StorageEntry{}); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Get implements storage.Storage.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	var entry models.StorageEntry

	result := s.tx(ctx).Where(&models.StorageEntry{Key: key}).Take(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}

		return nil, result.Error
	}

	if entry.Value == nil {
		entry.Value = []byte{}
	}

	return entry.Value, nil
}

// Set implements storage.Storage as an upsert.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}

	if value == nil {
		value = []byte{}
	}

	entry := models.StorageEntry{Key: key, Value: value}

	return s.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// Delete implements storage.Storage.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	return s.tx(ctx).Where(&models.StorageEntry{Key: key}).Delete(&models.StorageEntry{}).Error
}
