// Package memory provides an in-memory wal.Storage implementation.
//
// Runs are retained in order in process memory. The store is meant for
// tests and for embedding the log where durability across restarts is
// not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/ringwal/pkg/wal"
)

// ErrStoreClosed is returned when operations are attempted on a closed
// store.
var ErrStoreClosed = errors.New("memory store is closed")

// Store keeps every persisted run in memory, in rotation order.
type Store struct {
	mu      sync.Mutex
	runs    [][]byte
	durable uint64
	closed  bool
}

// New creates a store whose durable LSN accounting starts at
// initialLSN. It should match the log's InitialLSN.
func New(initialLSN uint64) *Store {
	return &Store{durable: initialLSN}
}

// Persist copies the run and retains it.
func (s *Store) Persist(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	run := make([]byte, len(data))
	copy(run, data)
	s.runs = append(s.runs, run)
	s.durable += uint64(len(run))

	return len(run), nil
}

// Flush reports the durable LSN. Runs are durable on Persist, so this
// is a pure read.
func (s *Store) Flush(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.durable, nil
}

// Runs returns copies of all persisted runs in rotation order.
func (s *Store) Runs() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.runs))
	for i, run := range s.runs {
		out[i] = make([]byte, len(run))
		copy(out[i], run)
	}
	return out
}

// Close marks the store closed. Further operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Store implements wal.Storage.
var _ wal.Storage = (*Store)(nil)
