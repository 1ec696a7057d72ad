// Package storetest provides an in-memory store.Backend for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jacentio/strategystore/store"
)

// Calls counts the operations a Backend has served.
type Calls struct {
	Put     int
	Get     int
	Delete  int
	ListAll int
}

// Backend is a concurrency-safe, in-memory store.Backend. Documents are
// copied on the way in and out, like a real backend would serialize them.
type Backend struct {
	mu      sync.Mutex
	docs    map[store.Key]*store.Document
	err     error
	delErr  map[store.Key]error
	calls   Calls
	version int64

	// OnList, when set, runs inside ListAll after the listing has been
	// taken and before it is returned.
	OnList func()
}

var _ store.Backend = (*Backend)(nil)

// New returns an empty Backend.
func New() *Backend {
	return &Backend{docs: make(map[store.Key]*store.Document)}
}

// FailWith makes every following call fail with err wrapped as
// store.ErrStoreUnavailable. A nil err restores normal operation.
func (b *Backend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// FailDeleteOf makes deletes of key fail with err wrapped as
// store.ErrStoreUnavailable. A nil err clears the failure.
func (b *Backend) FailDeleteOf(key store.Key, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delErr == nil {
		b.delErr = make(map[store.Key]error)
	}
	if err == nil {
		delete(b.delErr, key)
		return
	}
	b.delErr[key] = err
}

// Calls returns the operation counters.
func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Len returns the number of stored documents.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

// Seed stores docs directly, as another process sharing the backend would.
func (b *Backend) Seed(docs ...*store.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range docs {
		b.docs[d.Key()] = d.Clone()
	}
	b.version++
}

// SeedUnmarked stores docs directly without advancing the change marker,
// as a write whose marker update was lost would.
func (b *Backend) SeedUnmarked(docs ...*store.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range docs {
		b.docs[d.Key()] = d.Clone()
	}
}

// Remove deletes key directly, as another process sharing the backend would.
func (b *Backend) Remove(key store.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, key)
	b.version++
}

// Put implements store.Backend.
func (b *Backend) Put(_ context.Context, doc *store.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Put++
	if b.err != nil {
		return store.Unavailable(fmt.Sprintf("put %s", doc.Key()), b.err)
	}
	b.docs[doc.Key()] = doc.Clone()
	b.version++
	return nil
}

// Get implements store.Backend.
func (b *Backend) Get(_ context.Context, key store.Key) (*store.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Get++
	if b.err != nil {
		return nil, store.Unavailable(fmt.Sprintf("get %s", key), b.err)
	}
	d, ok := b.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return d.Clone(), nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(_ context.Context, key store.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Delete++
	if b.err != nil {
		return store.Unavailable(fmt.Sprintf("delete %s", key), b.err)
	}
	if err := b.delErr[key]; err != nil {
		return store.Unavailable(fmt.Sprintf("delete %s", key), err)
	}
	if _, ok := b.docs[key]; ok {
		delete(b.docs, key)
		b.version++
	}
	return nil
}

// ListAll implements store.Backend.
func (b *Backend) ListAll(_ context.Context) ([]*store.Document, error) {
	b.mu.Lock()
	b.calls.ListAll++
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return nil, store.Unavailable("list", err)
	}
	out := make([]*store.Document, 0, len(b.docs))
	for _, d := range b.docs {
		out = append(out, d.Clone())
	}
	hook := b.OnList
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

// TrackingBackend is a Backend that also implements store.ChangeTracker.
type TrackingBackend struct {
	*Backend
}

var _ store.ChangeTracker = TrackingBackend{}

// NewTracking returns an empty TrackingBackend.
func NewTracking() TrackingBackend {
	return TrackingBackend{Backend: New()}
}

// LastModified returns a time that advances on every write and is zero
// before the first one.
func (b TrackingBackend) LastModified(_ context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return time.Time{}, store.Unavailable("last modified", b.err)
	}
	if b.version == 0 {
		return time.Time{}, nil
	}
	return time.Unix(b.version, 0), nil
}
