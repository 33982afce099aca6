// Package kv provides the key-value persistence port used by the settings
// store and other components that need durable small JSON payloads. The
// interface is deliberately narrow so callers can be tested against the
// in-memory implementation and deployed against Redis or a local file.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("kv: key not found")

	// ErrUnavailable is returned when the backing store is unreachable
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store is the persistence port. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
