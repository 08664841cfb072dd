// Package store persists per-document mappings.
//
// A mapping is written exactly once at mask time, keyed by a request-unique
// document id, and is read-only thereafter. That write-once discipline is
// what makes concurrent unmask reads safe without extra locking; all
// backends enforce it.
//
// Three implementations:
//   - memoryStore — in-memory only, used in tests and when no persistence is configured.
//   - bboltStore  — embedded key-value store (bbolt), the production default.
//   - redisStore  — networked backend for multi-instance deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
)

// Store errors.
var (
	// ErrNotFound: no mapping exists for the document id.
	ErrNotFound = errors.New("mapping not found")

	// ErrAlreadyExists: a mapping for the document id was already written.
	// Mappings are immutable; a second Put for the same id is a bug.
	ErrAlreadyExists = errors.New("mapping already exists")
)

// MappingStore is the persistence interface for document mappings.
// All implementations must be safe for concurrent use.
type MappingStore interface {
	// Put stores the mapping under its DocID. Fails with ErrAlreadyExists
	// if a mapping for that id is present.
	Put(ctx context.Context, m *mask.Mapping) error

	// Get returns the mapping for the document id, or ErrNotFound.
	Get(ctx context.Context, docID string) (*mask.Mapping, error)

	// Delete removes a mapping. Deleting an absent id is not an error;
	// retention policy drivers call this blindly.
	Delete(ctx context.Context, docID string) error

	// Close releases any resources held by the store.
	Close() error
}

// encode serializes a mapping for storage.
func encode(m *mask.Mapping) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mapping %s: %w", m.DocID, err)
	}
	return data, nil
}

// decode deserializes a stored mapping and validates its schema version.
func decode(data []byte) (*mask.Mapping, error) {
	var m mask.Mapping
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if m.Schema != mask.MappingSchemaVersion {
		return nil, fmt.Errorf("decode mapping %s: schema %d, want %d",
			m.DocID, m.Schema, mask.MappingSchemaVersion)
	}
	return &m, nil
}

// --- memoryStore ----------------------------------------------------------

type memoryStore struct {
	mu       sync.RWMutex
	mappings map[string][]byte
}

// NewMemory returns an in-memory MappingStore.
func NewMemory() MappingStore {
	return &memoryStore{mappings: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, m *mask.Mapping) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[m.DocID]; ok {
		return fmt.Errorf("put %s: %w", m.DocID, ErrAlreadyExists)
	}
	s.mappings[m.DocID] = data
	return nil
}

func (s *memoryStore) Get(_ context.Context, docID string) (*mask.Mapping, error) {
	s.mu.RLock()
	data, ok := s.mappings[docID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", docID, ErrNotFound)
	}
	return decode(data)
}

func (s *memoryStore) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	delete(s.mappings, docID)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
