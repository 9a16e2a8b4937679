package persistence

import "errors"

var (
	// ErrNotMigrated is returned when the store is used before its schema has
	// been brought up to date.
	ErrNotMigrated = errors.New("persistence: store schema not migrated")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("persistence: store closed")
)
