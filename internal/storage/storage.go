// Package storage defines the keyed storage the session core persists into.
//
// Two capabilities are distinguished:
//   - Storage: durable keyed storage (survives restarts of the process).
//   - Observable: storage that also reports mutations made by *other*
//     handles on the same data, the way a browser reports storage writes of
//     sibling tabs. Writes made through a handle are never reported back to
//     that same handle.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Storage is durable keyed storage.
type Storage interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Event describes a mutation made by another handle.
type Event struct {
	Key      string
	OldValue []byte
	// NewValue is nil when the key was removed.
	NewValue []byte
}

// Removed reports whether the event is a deletion.
func (e Event) Removed() bool {
	return e.NewValue == nil
}

// Observable is Storage that reports mutations made through other handles.
type Observable interface {
	Storage
	// Subscribe registers fn for mutations made by other handles and returns
	// a function that removes the subscription. fn runs on the writer's
	// goroutine and must not block or write to the storage.
	Subscribe(fn func(Event)) (unsubscribe func())
}
