package breaker

import (
	"sort"
	"sync"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Registry holds one breaker per provider. It is constructed once at
// start-up and injected into the router and the health surface.
type Registry struct {
	mu       sync.RWMutex
	breakers map[provider.ID]*Breaker
}

// NewRegistry creates breakers for the given providers. Providers
// missing from settings get kind-appropriate defaults.
func NewRegistry(ids []provider.ID, settings map[provider.ID]Settings) *Registry {
	reg := &Registry{breakers: make(map[provider.ID]*Breaker, len(ids))}
	for _, id := range ids {
		s, ok := settings[id]
		if !ok {
			if id.Local() {
				s = LocalSettings()
			} else {
				s = CloudSettings()
			}
		}
		reg.breakers[id] = New(id, s)
	}
	return reg
}

// Get returns the breaker for a provider.
func (r *Registry) Get(id provider.ID) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[id]
	return b, ok
}

// Snapshot returns every breaker's record, ordered by provider.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.breakers))
	for _, b := range r.breakers {
		records = append(records, b.Record())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Provider < records[j].Provider })
	return records
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
