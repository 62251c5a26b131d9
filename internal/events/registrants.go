// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package events

import (
	"sync"

	"github.com/google/uuid"
)

// Registrants is a concurrent mapping from sink token to sink value. It may
// be read (fanned out to) from any goroutine, but is only ever mutated
// from the owning component's Loop, per the concurrency model's "shared
// mutable state" exception for registrant lists.
type Registrants[T any] struct {
	mu   sync.RWMutex
	sink map[uuid.UUID]T
}

// NewRegistrants constructs an empty registrant list.
func NewRegistrants[T any]() *Registrants[T] {
	return &Registrants[T]{sink: make(map[uuid.UUID]T)}
}

// Register adds a sink and returns its token.
func (r *Registrants[T]) Register(sink T) uuid.UUID {
	token := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[token] = sink
	return token
}

// Unregister removes a sink by token.
func (r *Registrants[T]) Unregister(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sink, token)
}

// Snapshot returns a point-in-time copy of all registered sinks, so
// emission can fan out without holding the lock across listener calls
// (avoiding re-entrant modification if a listener registers/unregisters
// during its own callback).
func (r *Registrants[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.sink))
	for _, v := range r.sink {
		out = append(out, v)
	}
	return out
}

// Len reports the number of registered sinks.
func (r *Registrants[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sink)
}
