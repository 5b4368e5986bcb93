package bridge

import (
	"sync"

	"github.com/google/uuid"
)

// Callable is a host function invocable from the VM through dispatch.
// Arguments arrive already decoded to host values.
type Callable func(args []interface{}) (interface{}, error)

// VariadicArity registers a callable that accepts any number of arguments.
// The dispatcher skips the arity check for such entries.
const VariadicArity = -1

// callableEntry pairs a callable with its declared payload arity. Arity is
// checked at call time, not registration time.
type callableEntry struct {
	argc int
	fn   Callable
}

// Registry is the process-wide map from generated identifiers to host
// callables. The boundary cannot pass native closures, so VM-side references
// to host code are these identifiers. Insert and lookup are independently
// atomic; no transaction spans the registry and the instance store.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*callableEntry
}

// NewRegistry creates an empty callable registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*callableEntry),
	}
}

// Register stores a callable under a fresh globally unique identifier and
// returns the identifier. Identifiers are random 128-bit values; collision
// after an entry is evicted is negligible.
func (r *Registry) Register(argc int, fn Callable) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &callableEntry{argc: argc, fn: fn}
	return id
}

// Lookup retrieves the callable and declared arity for an identifier.
func (r *Registry) Lookup(id string) (fn Callable, argc int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, 0, false
	}
	return e.fn, e.argc, true
}

// Remove evicts an entry. Dispatching the identifier afterwards reports an
// unknown callable.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of registered callables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
