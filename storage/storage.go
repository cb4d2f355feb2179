// Package storage provides durable, namespaced key-value persistence for
// credentials and OAuth artifacts. Values live in a single bbolt file with
// one bucket per namespace; bbolt serializes concurrent readers and writers,
// so callers perform no additional locking.
package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// dataDirPerm is the permission mode for the data directory.
	dataDirPerm = fs.FileMode(0o700)

	// dataFilePerm is the permission mode for the database file.
	dataFilePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

// scalarRecord wraps plain string values so that scalars and JSON documents
// share one on-disk representation.
type scalarRecord struct {
	Value string `json:"value"`
}

// Store wraps a bbolt database keyed by namespace and name.
type Store struct {
	db *bolt.DB
}

// Open creates or reopens the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dataDirPerm); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(path, dataFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store persists a scalar value under namespace/key, overwriting any
// previous value.
func (s *Store) Store(namespace, key, value string) error {
	raw, err := json.Marshal(scalarRecord{Value: value})
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	return s.put(namespace, key, raw)
}

// Retrieve returns the scalar value stored under namespace/key. The second
// return value reports whether the key existed.
func (s *Store) Retrieve(namespace, key string) (string, bool, error) {
	raw, err := s.get(namespace, key)
	if err != nil || raw == nil {
		return "", false, err
	}

	var rec scalarRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return rec.Value, true, nil
}

// StoreLarge persists a multi-field record under namespace/key as JSON.
func (s *Store) StoreLarge(namespace, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	return s.put(namespace, key, raw)
}

// GetValue loads the record stored by StoreLarge into out. The return value
// reports whether the key existed.
func (s *Store) GetValue(namespace, key string, out any) (bool, error) {
	raw, err := s.get(namespace, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Delete removes namespace/key. Deleting an absent key is not an error.
func (s *Store) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) put(namespace, key string, raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("bucket %s: %w", namespace, err)
		}
		return b.Put([]byte(key), raw)
	})
}

func (s *Store) get(namespace, key string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	return raw, err
}
