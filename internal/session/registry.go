package session

import (
	"sync"

	"github.com/maxiokv/dkvd/internal/crdt"
)

// MapKind distinguishes the two CRDT shapes a registered map may have.
type MapKind int

const (
	KindLWW MapKind = iota
	KindORSet
)

// Registry is the in-process MapRegistry: every map a node hosts, created
// up front or lazily via EnsureLWWMap/EnsureORSetMap, indexed by name.
type Registry struct {
	fanout int
	depth  int

	mu   sync.RWMutex
	lww  map[string]*crdt.LWWMap
	orset map[string]*crdt.ORSetMap
}

// NewRegistry constructs an empty Registry. fanout/depth size every map's
// Merkle tree (see internal/merkle).
func NewRegistry(fanout, depth int) *Registry {
	return &Registry{
		fanout: fanout, depth: depth,
		lww:   make(map[string]*crdt.LWWMap),
		orset: make(map[string]*crdt.ORSetMap),
	}
}

// LWWMap implements MapRegistry.
func (r *Registry) LWWMap(name string) (*crdt.LWWMap, bool) {
	r.mu.RLock()
	m, ok := r.lww[name]
	r.mu.RUnlock()
	return m, ok
}

// ORSetMap implements MapRegistry.
func (r *Registry) ORSetMap(name string) (*crdt.ORSetMap, bool) {
	r.mu.RLock()
	m, ok := r.orset[name]
	r.mu.RUnlock()
	return m, ok
}

// EnsureLWWMap returns the named LWW map, creating it if absent. It panics
// if name is already registered as an OR-set map.
func (r *Registry) EnsureLWWMap(name string) *crdt.LWWMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, isOrset := r.orset[name]; isOrset {
		panic("session: map " + name + " already registered as OR-set")
	}
	if m, ok := r.lww[name]; ok {
		return m
	}
	m := crdt.NewLWWMap(name, r.fanout, r.depth)
	r.lww[name] = m
	return m
}

// EnsureORSetMap returns the named OR-set map, creating it if absent. It
// panics if name is already registered as an LWW map.
func (r *Registry) EnsureORSetMap(name string) *crdt.ORSetMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, isLWW := r.lww[name]; isLWW {
		panic("session: map " + name + " already registered as LWW")
	}
	if m, ok := r.orset[name]; ok {
		return m
	}
	m := crdt.NewORSetMap(name, r.fanout, r.depth)
	r.orset[name] = m
	return m
}

// MapNames returns every registered map name and its kind.
func (r *Registry) MapNames() map[string]MapKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]MapKind, len(r.lww)+len(r.orset))
	for name := range r.lww {
		out[name] = KindLWW
	}
	for name := range r.orset {
		out[name] = KindORSet
	}
	return out
}
