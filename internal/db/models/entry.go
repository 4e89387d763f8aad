package models

import "time"

// StorageEntry is one key/value pair of the SQL-backed session storage.
type StorageEntry struct {
	// Key is the namespaced storage key.
	Key string `gorm:"primaryKey;size:191"`
	// Value is the raw stored payload.
	Value []byte
	// UpdatedAt is maintained by gorm on every write.
	UpdatedAt time.Time
}

// TableName sets the default table name for the StorageEntry model.
func (StorageEntry) TableName() string {
	return "authsession_storage"
}
