// Package storage defines the durable key/value store the cart snapshot is
// persisted to.
package storage

import (
	"context"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = apperrors.ErrNotFound

// Storage is a durable byte store keyed by name.
type Storage interface {
	// Get returns the value stored under key or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
