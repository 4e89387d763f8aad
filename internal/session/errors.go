package session

import "errors"

var (
	// ErrNoRegistry is returned by New without a provider registry.
	ErrNoRegistry = errors.New("session: provider registry is nil")
	// ErrNoStorage is returned by New without observable storage.
	ErrNoStorage = errors.New("session: storage is nil")
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("session: manager closed")
)
