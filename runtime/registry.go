// Package runtime holds the in-process plumbing shared by services and stores:
// handler registries and delivery gates.
package runtime

import (
	"sync"
)

// Unsubscribe removes a previously registered handler. Calling it twice is a no-op.
type Unsubscribe func()

type entry[T any] struct {
	id      uint64
	handler T
}

// Registry keeps handlers in registration order.
// Handlers are always iterated on a snapshot, so they may add, remove or
// clear handlers while being invoked.
type Registry[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add registers a handler and returns its unsubscribe handle.
func (r *Registry[T]) Add(handler T) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry[T]{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			// Copy on removal so snapshots taken earlier stay untouched
			entries := make([]entry[T], 0, len(r.entries)-1)
			entries = append(entries, r.entries[:i]...)
			r.entries = append(entries, r.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns the registered handlers in registration order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]T, len(r.entries))
	for i, e := range r.entries {
		handlers[i] = e.handler
	}
	return handlers
}

// Clear drops every handler.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
