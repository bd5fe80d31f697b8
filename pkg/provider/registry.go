package provider

import (
	"context"
	"fmt"
	"sort"
)

// Invoker performs one vendor call with a normalized request.
type Invoker interface {
	// Invoke sends the request to the backend and returns its reply.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Name returns the invoker's provider identifier.
	Name() ID

	// Models returns the list of supported models, default first.
	Models() []string
}

// Registry maps provider identifiers to invokers. It is built once at
// start-up and injected wherever providers are called; there is no
// package-level instance.
type Registry struct {
	invokers map[ID]Invoker
}

// NewRegistry builds a registry from the given invokers, rejecting
// unknown or duplicate identifiers.
func NewRegistry(invokers ...Invoker) (*Registry, error) {
	reg := &Registry{invokers: make(map[ID]Invoker, len(invokers))}
	for _, inv := range invokers {
		id := inv.Name()
		if _, ok := Parse(string(id)); !ok {
			return nil, fmt.Errorf("unknown provider %q", id)
		}
		if _, dup := reg.invokers[id]; dup {
			return nil, fmt.Errorf("duplicate provider %q", id)
		}
		reg.invokers[id] = inv
	}
	if len(reg.invokers) == 0 {
		return nil, fmt.Errorf("registry requires at least one provider")
	}
	return reg, nil
}

// Get returns the invoker for a provider.
func (r *Registry) Get(id ID) (Invoker, bool) {
	inv, ok := r.invokers[id]
	return inv, ok
}

// IDs returns the registered providers in stable order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.invokers))
	for id := range r.invokers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
