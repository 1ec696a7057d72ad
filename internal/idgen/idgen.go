// Package idgen generates identifiers for strategies and their triggers.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator interface {
	NewID() string
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

var _ Generator = UUIDGenerator{}

// NewID returns a new random UUID in its canonical string form.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Default is the generator used when none is configured.
var Default Generator = UUIDGenerator{}

// Sequence issues "<prefix>-1", "<prefix>-2", ... in order.
// It is deterministic and intended for tests and fixtures.
type Sequence struct {
	Prefix string

	mu   sync.Mutex
	next int
}

var _ Generator = (*Sequence)(nil)

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%d", prefix, s.next)
}
