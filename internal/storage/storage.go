// Package storage provides the locations a snapshot can be written to. Each
// backend is a flat key/value blob store whose Put replaces one key atomically.
package storage

import (
	"context"
	"errors"
	"os"
)

// ErrNotFound is returned by Get for a missing key. It matches os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is a keyed blob store. Keys use forward slashes.
type Store interface {
	// Get returns the blob stored under key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key. A concurrent or crashed Put never leaves a
	// partially written value visible.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Describe returns a human-readable location, used in logs and status.
	Describe() string
	Close() error
}

// IsNotFound reports whether err means a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
