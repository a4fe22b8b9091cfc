// Package index maps endpoint identities to connections, replacing the
// source's RAVL tree with a plain hash map per spec.md §9 REDESIGN FLAGS
// ("a hash map suffices; the key is stable for the lifetime of the
// endpoint").
package index

import (
	"sync"

	"github.com/behrlich/rpma/internal/transport"
)

// ConnectionIndex maps endpoint identities to connections. It is the
// EpConnPair of spec.md §3: a connection belongs in the index iff its
// endpoint is Connected and has not yet Terminated.
type ConnectionIndex[V any] struct {
	mu sync.RWMutex
	m  map[transport.EndpointID]V
}

// New creates an empty index.
func New[V any]() *ConnectionIndex[V] {
	return &ConnectionIndex[V]{m: make(map[transport.EndpointID]V)}
}

// Insert adds the connection for id, enforcing the uniqueness
// invariant spec.md §3 assigns to EpConnPair: inserting an id that is
// already present is a caller error and panics, since it means the source
// lost track of a prior FI_SHUTDOWN.
func (idx *ConnectionIndex[V]) Insert(id transport.EndpointID, conn V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.m[id]; exists {
		panic("index: endpoint id already registered")
	}
	idx.m[id] = conn
}

// Remove deletes the entry for id, if present. Removing a missing id is a
// no-op (mirrors a FI_SHUTDOWN racing a concurrent explicit disconnect).
func (idx *ConnectionIndex[V]) Remove(id transport.EndpointID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.m, id)
}

// Lookup returns the connection for id, and whether it was present.
func (idx *ConnectionIndex[V]) Lookup(id transport.EndpointID) (V, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.m[id]
	return v, ok
}

// Len returns the number of indexed connections (active_connections in
// spec.md §4.1).
func (idx *ConnectionIndex[V]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.m)
}

// Each calls fn for every entry currently in the index. fn must not call
// back into Insert/Remove on the same index; snapshot keys first if mutation
// during iteration is required.
func (idx *ConnectionIndex[V]) Each(fn func(transport.EndpointID, V)) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for k, v := range idx.m {
		fn(k, v)
	}
}
