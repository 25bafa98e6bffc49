// Package store provides the shared keyspace used for sequence numbers, the
// outbound PDU cache and multipart buffers. Every backend offers atomic
// increment, get/set/delete with TTL and set-if-not-exists for locking.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("store: key not found")

// Store is the durable keyspace shared by all binds and process instances.
type Store interface {
	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// ResetCounter sets the counter at key back to zero.
	ResetCounter(ctx context.Context, key string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Close() error
}

// Purger is implemented by backends that do not expire keys on their own.
type Purger interface {
	// Purge deletes expired keys and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}
