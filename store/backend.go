package store

import (
	"context"
	"time"
)

// Backend is a durable key/value home for strategies.
//
// Implementations wrap every I/O failure with ErrStoreUnavailable (see
// Unavailable). Writes are last-write-wins; there is no optimistic locking.
type Backend interface {
	// Put stores doc under doc.Key(), replacing any previous value.
	Put(ctx context.Context, doc *Document) error

	// Get returns the strategy stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Document, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// ListAll returns every stored strategy. It may be expensive.
	ListAll(ctx context.Context) ([]*Document, error)
}

// ChangeTracker is implemented by backends that can cheaply report when
// they were last written. The cache uses it to skip reloads when nothing
// changed. A zero time means the backend does not know.
type ChangeTracker interface {
	LastModified(ctx context.Context) (time.Time, error)
}
