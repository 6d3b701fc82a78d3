// Package objstore provides the narrow object-store contract of spec
// §4.1: list, get, create-if-not-exists put, best-effort atomic replace,
// and an exclusive lease. Every other component is built on top of it.
package objstore

import (
	"context"
	"time"
)

// Store abstracts the blob store backing the engine. Implementations
// (S3, local filesystem) must tolerate concurrent calls.
type Store interface {
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Get returns the bytes stored at key. If key does not exist it
	// returns a wxerr storage error with code CodeObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutUnique atomically creates a new object named prefix suffixed
	// with a fresh UUID and returns the key it was written to. Distinct
	// callers never collide because the suffix is always fresh.
	PutUnique(ctx context.Context, prefix string, body []byte) (string, error)

	// ReplaceAtomically uploads body at newKey, confirms it is durably
	// visible, and only then deletes oldKeys. If the store lacks
	// multi-object transactions this is simulated by write-then-delete;
	// callers (and readers) must tolerate a transient window in which
	// both newKey and oldKeys are visible.
	ReplaceAtomically(ctx context.Context, oldKeys []string, newKey string, body []byte) error

	// Lease acquires an exclusive, named, time-bounded lock. The
	// returned Lease must be released or it expires after ttl.
	Lease(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Lease is an exclusive, named hold acquired via Store.Lease.
type Lease interface {
	// Release gives up the lease early. Releasing twice is a no-op.
	Release(ctx context.Context) error
}
