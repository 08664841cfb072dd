package store

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
)

const mappingBucket = "mappings"

// bboltStore is a MappingStore backed by an embedded bbolt database.
// Mappings survive process restarts. The database file is created at the
// given path if it does not exist.
type bboltStore struct {
	db *bolt.DB
}

// NewBbolt opens (or creates) the bbolt database at path and ensures the
// mapping bucket exists.
func NewBbolt(path string) (MappingStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open mapping store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(mappingBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create mapping bucket: %w", err)
	}

	return &bboltStore{db: db}, nil
}

func (s *bboltStore) Put(_ context.Context, m *mask.Mapping) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mappingBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", mappingBucket)
		}
		if b.Get([]byte(m.DocID)) != nil {
			return fmt.Errorf("put %s: %w", m.DocID, ErrAlreadyExists)
		}
		return b.Put([]byte(m.DocID), data)
	})
}

func (s *bboltStore) Get(_ context.Context, docID string) (*mask.Mapping, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mappingBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(docID)); v != nil {
			// Copy: bbolt values are only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("get %s: %w", docID, ErrNotFound)
	}
	return decode(data)
}

func (s *bboltStore) Delete(_ context.Context, docID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mappingBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(docID))
	})
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
