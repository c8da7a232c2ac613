/*
	Package badger implements a key-value store inside an embedded BadgerDB, useful for
	keeping many small chunks of an array in one directory instead of one file each.
	The store path is the database directory optionally followed by "|" and a key
	prefix, so several arrays can share one database.
*/
package badger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

const (
	// DefaultVersionsToKeep is the number of versions to keep per key.
	DefaultVersionsToKeep = 1

	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false

	// syncInterval is how often buffered writes are flushed.
	syncInterval = 30 * time.Second
)

// Engine constructs BadgerDB-backed stores.
type Engine struct {
	storage.BaseEngine
}

// NewEngine returns the "badger" engine.
func NewEngine() Engine {
	return Engine{storage.NewBaseEngine("badger", "BadgerDB", "0.1.0")}
}

// NewStore opens or creates a BadgerDB at the spec path.
func (e Engine) NewStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	path, prefix := storage.SplitPath(spec.Path)
	opts, err := getOptions(path, spec.Config)
	if err != nil {
		return nil, err
	}
	return Open(path, prefix, opts, create)
}

func getOptions(path string, config bfio.Config) (badger.Options, error) {
	opts := badger.DefaultOptions(path).
		WithNumVersionsToKeep(DefaultVersionsToKeep).
		WithSyncWrites(DefaultSyncWrites).
		WithLoggingLevel(badger.WARNING)

	readOnly, found, err := config.GetBool("ReadOnly")
	if err != nil {
		return opts, err
	}
	if found {
		opts = opts.WithReadOnly(readOnly)
	}
	inMemory, found, err := config.GetBool("InMemory")
	if err != nil {
		return opts, err
	}
	if found && inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	valueSizeThresh, found, err := config.GetInt("ValueThreshold")
	if err != nil {
		return opts, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}
	return opts, nil
}

// Store is a BadgerDB-backed key-value store.
type Store struct {
	directory string
	prefix    []byte
	bdp       *badger.DB

	// stopSyncCh is used to signal the sync goroutine to stop.
	stopSyncCh chan struct{}
	closeOnce  sync.Once
}

// Open returns a store in the BadgerDB at path, creating the directory if create is true.
func Open(path, prefix string, opts badger.Options, create bool) (*Store, error) {
	if !opts.InMemory {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if !create {
				return nil, fmt.Errorf("no badger database at %s: %w", path, err)
			}
			bfio.Infof("Database not already at path (%s). Creating directory...\n", path)
			if err := os.MkdirAll(path, 0744); err != nil {
				return nil, fmt.Errorf("can't make directory at %s: %v", path, err)
			}
		}
	}
	bdp, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{
		directory:  path,
		bdp:        bdp,
		stopSyncCh: make(chan struct{}),
	}
	if prefix != "" {
		s.prefix = []byte(prefix + "/")
	}
	if !opts.InMemory {
		go s.syncPeriodically()
	}
	return s, nil
}

// Periodically sync to prevent too many writes from being buffered
// if the process crashes.
func (s *Store) syncPeriodically() {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSyncCh:
			bfio.Debugf("Stopping sync goroutine for badger @ %s\n", s.directory)
			return
		case <-ticker.C:
			if err := s.bdp.Sync(); err != nil {
				bfio.Errorf("badger sync @ %s: %v\n", s.directory, err)
			}
		}
	}
}

func (s *Store) String() string {
	return fmt.Sprintf("badger @ %s", s.directory)
}

func (s *Store) key(k string) []byte {
	return append(append([]byte{}, s.prefix...), k...)
}

// Get returns a value given a key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// Put writes a value with given key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.bdp.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
}

// Delete removes a value with given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdp.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
}

// List returns keys with the given prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.bdp.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // key only
		it := txn.NewIterator(opts)
		defer it.Close()
		full := s.key(prefix)
		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, string(bytes.TrimPrefix(k, s.prefix)))
		}
		return nil
	})
	return keys, err
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopSyncCh)
		err = s.bdp.Close()
		bfio.Debugf("Closed Badger DB @ %s\n", s.directory)
	})
	return err
}
