// Package clone holds per-type copy functions used to freeze an artifact at the
// moment it is recorded. Types without a registered function are stored by
// reference.
package clone

import (
	"reflect"
	"sync"
)

// Cloner copies a value. Implemented by *Registry.
type Cloner interface {
	Clone(v any) any
}

// Registry maps concrete types to copy functions. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	fns map[reflect.Type]func(any) any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[reflect.Type]func(any) any)}
}

// Register installs fn as the copy function for values of type T, replacing any
// previous registration.
func Register[T any](r *Registry, fn func(T) T) {
	t := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[t] = func(v any) any { return fn(v.(T)) }
}

// Clone returns a copy of v if its dynamic type is registered, else v itself.
func (r *Registry) Clone(v any) any {
	if v == nil {
		return nil
	}
	r.mu.RLock()
	fn, ok := r.fns[reflect.TypeOf(v)]
	r.mu.RUnlock()
	if !ok {
		return v
	}
	return fn(v)
}

// Registered reports whether v's dynamic type has a copy function.
func (r *Registry) Registered(v any) bool {
	if v == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[reflect.TypeOf(v)]
	return ok
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fns)
}

// Identity is a Cloner that never copies.
var Identity Cloner = identity{}

type identity struct{}

func (identity) Clone(v any) any { return v }
