// Package storage defines the durable key-value backing store consumed by
// the cache store and the request queue. The core defines the schema and
// access pattern; the engine behind the interface is pluggable.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("storage: key not found")

// Store is a durable key-value store. It is the single shared mutable
// resource of the data layer; only the cache store and the request queue
// write to it, each inside its own key namespace.
//
// Implementations must make Set durable before returning: a crash after a
// successful Set must not lose the write.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan visits every key with the given prefix. Returning an error from
	// fn stops the scan and propagates the error.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// DropPrefix removes every key with the given prefix.
	DropPrefix(ctx context.Context, prefix []byte) error

	// Close releases the underlying engine.
	Close() error
}
