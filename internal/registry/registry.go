// Package registry holds the catalog of protection kinds. Protections are
// registered at startup; once frozen the registry is read-only and safe to
// share across module workers.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/leapstack-labs/leapcloak/internal/dag"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// Registry maps protection ids to protections.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]core.Protection
	frozen bool

	orderOnce sync.Once
	order     []string
	orderErr  error
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]core.Protection)}
}

// Register adds a protection. A duplicate or empty id, a malformed schema or
// registering after Freeze is a configuration error.
func (r *Registry) Register(p core.Protection) error {
	desc := p.Descriptor()
	if desc.ID == "" {
		return core.Configf("protection with empty id")
	}
	if err := desc.Schema.Check(); err != nil {
		return core.Configf("protection %q: invalid schema: %w", desc.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return core.Configf("protection %q: registry is frozen", desc.ID)
	}
	if _, exists := r.byID[desc.ID]; exists {
		return core.Configf("protection %q registered twice", desc.ID)
	}
	r.byID[desc.ID] = p
	return nil
}

// MustRegister registers p and panics on error. For use in catalog setup.
func (r *Registry) MustRegister(p core.Protection) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the protection with the given id.
func (r *Registry) Get(id string) (core.Protection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Count returns the number of registered protections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every protection sorted by id.
func (r *Registry) All() []core.Protection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Protection, 0, len(r.byID))
	for _, id := range r.idsLocked() {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Graph builds the ordering graph of the registered protections. Constraints
// naming an unregistered id are ignored.
func (r *Registry) Graph() *dag.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := dag.NewGraph()
	for id, p := range r.byID {
		g.AddNode(id, p)
	}
	for _, id := range r.idsLocked() {
		desc := r.byID[id].Descriptor()
		for _, later := range desc.Before {
			if _, ok := r.byID[later]; ok {
				_ = g.AddEdge(id, later)
			}
		}
		for _, earlier := range desc.After {
			if _, ok := r.byID[earlier]; ok {
				_ = g.AddEdge(earlier, id)
			}
		}
	}
	return g
}

// Order returns the global total order of protection ids consistent with
// every declared constraint. A cycle is a configuration error. Once the
// registry is frozen the order is computed once and reused.
func (r *Registry) Order() ([]string, error) {
	if !r.Frozen() {
		return r.computeOrder()
	}
	r.orderOnce.Do(func() {
		r.order, r.orderErr = r.computeOrder()
	})
	return slices.Clone(r.order), r.orderErr
}

func (r *Registry) computeOrder() ([]string, error) {
	nodes, err := r.Graph().TopologicalSort()
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Errorf("protection order: %w", err))
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids, nil
}
