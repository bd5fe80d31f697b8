package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/zen-systems/medgate/pkg/provider"
)

const keyPrefix = "availability/"

// BadgerStore persists availability records in a BadgerDB instance.
// Records survive process restarts, and instances sharing the same
// volume converge on the same view of provider health within one TTL.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store at path. An empty path
// opens an in-memory instance, used by tests.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening availability store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get returns the record for a provider, or nil when absent. Badger
// drops expired entries on read, so TTL expiry reads as a miss.
func (s *BadgerStore) Get(_ context.Context, id provider.ID) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + string(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Record
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading availability record for %s: %w", id, err)
	}
	return rec, nil
}

// Set overwrites the record with the given TTL.
func (s *BadgerStore) Set(_ context.Context, id provider.ID, rec Record, ttl time.Duration) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding availability record for %s: %w", id, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+string(id)), encoded).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("writing availability record for %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
