// Package badger provides a BadgerDB-backed wal.Storage implementation.
//
// Each segment run is stored under a key derived from its first LSN, so
// keys iterate in log order. A meta key tracks the durable LSN across
// restarts.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/ringwal/pkg/wal"
)

// ErrStoreClosed is returned when operations are attempted on a closed
// store.
var ErrStoreClosed = errors.New("badger store is closed")

var (
	keyMetaDurable = []byte("ringwal!meta!durable")
	keyRunPrefix   = []byte("ringwal!run!")
)

// Config holds configuration for the badger store.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// InitialLSN seeds LSN accounting for a fresh database. Ignored
	// when the database already carries a durable LSN.
	InitialLSN uint64

	// SyncWrites makes every commit fsync. When false (the default),
	// durability is deferred to Flush, which calls db.Sync.
	SyncWrites bool
}

// Store is a BadgerDB-backed implementation of wal.Storage.
type Store struct {
	mu      sync.Mutex
	db      *badger.DB
	handed  uint64
	durable uint64
	closed  bool
}

// Open opens (or creates) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("badger store: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db, handed: cfg.InitialLSN, durable: cfg.InitialLSN}

	// Resume LSN accounting from a previous run of the process.
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMetaDurable)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("malformed durable marker (%d bytes)", len(val))
			}
			s.durable = binary.BigEndian.Uint64(val)
			s.handed = s.durable
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read durable marker: %w", err)
	}

	return s, nil
}

// runKey returns the key for a run whose first byte is lsn. Big-endian
// encoding keeps badger's key order equal to log order.
func runKey(lsn uint64) []byte {
	key := make([]byte, len(keyRunPrefix)+8)
	copy(key, keyRunPrefix)
	binary.BigEndian.PutUint64(key[len(keyRunPrefix):], lsn)
	return key
}

// Persist stores one segment run in a single transaction.
func (s *Store) Persist(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	// The run slice aliases the segment buffer, which the log clears
	// once Persist returns; badger must get its own copy.
	run := make([]byte, len(data))
	copy(run, data)

	first := s.handed
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(first), run)
	})
	if err != nil {
		return 0, fmt.Errorf("store run at lsn %d: %w", first, err)
	}

	s.handed += uint64(len(data))
	return len(data), nil
}

// Flush syncs badger to disk and advances the durable LSN marker.
func (s *Store) Flush(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	if s.durable != s.handed {
		if err := s.db.Sync(); err != nil {
			return 0, fmt.Errorf("sync badger: %w", err)
		}

		var marker [8]byte
		binary.BigEndian.PutUint64(marker[:], s.handed)
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(keyMetaDurable, marker[:])
		})
		if err != nil {
			return 0, fmt.Errorf("store durable marker: %w", err)
		}

		s.durable = s.handed
	}

	return s.durable, nil
}

// Runs iterates all stored runs in LSN order and passes each to fn.
// Iteration stops at the first error.
func (s *Store) Runs(fn func(firstLSN uint64, data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyRunPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			first := binary.BigEndian.Uint64(key[len(keyRunPrefix):])

			err := item.Value(func(val []byte) error {
				return fn(first, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close syncs and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Ensure Store implements wal.Storage.
var _ wal.Storage = (*Store)(nil)
