package availability

import (
	"context"
	"sync"
	"time"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Store persists availability records with a TTL. The badger-backed
// store is shared across instances; the memory store is the in-process
// fallback written alongside every shared write.
type Store interface {
	// Get returns the record for a provider, or nil when absent or expired.
	Get(ctx context.Context, id provider.ID) (*Record, error)

	// Set overwrites the record for a provider. Last write wins.
	Set(ctx context.Context, id provider.ID, rec Record, ttl time.Duration) error

	// Close releases the store.
	Close() error
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process store with TTL.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[provider.ID]memoryEntry
	now   func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[provider.ID]memoryEntry),
		now:   time.Now,
	}
}

// Get returns the record, or nil when missing or expired.
func (s *MemoryStore) Get(_ context.Context, id provider.ID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok || s.now().After(e.expiresAt) {
		return nil, nil
	}
	rec := e.record
	return &rec, nil
}

// Set overwrites the record with a fresh TTL.
func (s *MemoryStore) Set(_ context.Context, id provider.ID, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = memoryEntry{record: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
