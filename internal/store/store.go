// Package store provides the durable state shared by the hub and its
// collaborators: resume cursors, token records, and the chat-membership
// projection. Everything lives in one badger database under the data dir.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

// ErrNotFound is returned by point lookups that miss.
var ErrNotFound = errors.New("store: key not found")

// Store wraps the badger database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the badger database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "state")).
		WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get reads one key. Returns ErrNotFound on a miss.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Iterate visits every key under prefix, stopping early if fn returns false.
func (s *Store) Iterate(prefix string, fn func(key string, value []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		pfx := []byte(prefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(string(item.Key()), val) {
				return nil
			}
		}
		return nil
	})
}

// badgerLogger routes badger's chatter to slog at debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { slog.Error(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Warningf(f string, v ...interface{}) { slog.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Infof(f string, v ...interface{})    { slog.Debug(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Debugf(f string, v ...interface{})   { slog.Debug(fmt.Sprintf("badger: "+f, v...)) }
