// Package statestore defines the TTL-keyed KV collaborator the core
// registries persist their warm state through, plus two
// implementations: a Redis-backed one for production and an in-memory
// one for tests and standalone runs.
package statestore

import (
	"context"
	"time"
)

// StateStore is a TTL-keyed key/value store. Values are opaque bytes;
// callers marshal/unmarshal their own records.
type StateStore interface {
	// Set stores val under key with the given TTL. A zero TTL means no
	// expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound if absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Scan returns all keys with the given prefix. Used by registry
	// warm-start to rebuild in-memory indices from persisted state.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Close releases any underlying connection.
	Close() error
}

// ErrNotFound is returned by Get when the key does not exist or has
// expired.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "statestore: key not found" }
