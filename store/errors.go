package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no strategy matches the lookup.
	ErrNotFound = errors.New("strategystore: strategy not found")

	// ErrDuplicateName is returned when a write would give two strategies of
	// the same application the same name.
	ErrDuplicateName = errors.New("strategystore: a strategy with that name already exists in that application")

	// ErrStoreUnavailable is returned when the backing store cannot be reached
	// or fails an operation.
	ErrStoreUnavailable = errors.New("strategystore: backing store unavailable")

	// ErrInvalidDocument is returned when a strategy lacks a required field.
	ErrInvalidDocument = errors.New("strategystore: invalid strategy")
)

// Unavailable wraps a backend failure so that it matches ErrStoreUnavailable
// while keeping err in the chain. It returns nil for a nil err.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
