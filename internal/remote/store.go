// Package remote defines the key-value contract the synchronizer uses
// to talk to the shared remote store. The contract is transport
// agnostic: collections are maps from record id to the record's JSON
// encoding, fetched and replaced whole.
package remote

import (
	"context"
	"encoding/json"
	"sync"
)

// Collection names understood by every store implementation.
const (
	CollectionCards      = "cards"
	CollectionActivities = "activities"
)

// Store is the remote side of the sync protocol.
type Store interface {
	// GetAll fetches the full remote collection keyed by record id.
	GetAll(ctx context.Context, collection string) (map[string]json.RawMessage, error)
	// PutAll replaces the full remote collection with the given records.
	PutAll(ctx context.Context, collection string, records map[string]json.RawMessage) error
}

// Memory is an in-process Store used in tests and as the default
// backend when no remote is configured.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]json.RawMessage)}
}

// GetAll implements Store.
func (m *Memory) GetAll(_ context.Context, collection string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]json.RawMessage, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		out[id] = doc
	}
	return out, nil
}

// PutAll implements Store.
func (m *Memory) PutAll(_ context.Context, collection string, records map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make(map[string]json.RawMessage, len(records))
	for id, doc := range records {
		stored[id] = doc
	}
	m.collections[collection] = stored
	return nil
}
