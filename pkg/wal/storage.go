package wal

import (
	"context"
)

// Storage is the durable back-end the log hands rotated segments to.
//
// The log serializes all calls behind its storage mutex, so
// implementations are never invoked concurrently by a single log.
// Each Persist call receives the filled prefix of one rotated segment;
// consecutive calls carry consecutive LSN ranges.
//
// Implementations can use different back-ends (file, badger, S3, etc).
type Storage interface {
	// Persist stores one segment run and returns the number of
	// bytes accepted. Accepting fewer than len(data) bytes is an error
	// condition; the log treats it as a failed persist.
	//
	// The data slice aliases the segment buffer and is only valid for
	// the duration of the call; implementations that retain bytes must
	// copy them.
	Persist(ctx context.Context, data []byte) (int, error)

	// Flush forces previously persisted runs to durable media and
	// returns the LSN one past the last durable byte. It must never
	// report beyond the bytes handed to Persist. A no-op Flush that
	// just reports is permitted for back-ends that are durable on
	// Persist.
	Flush(ctx context.Context) (uint64, error)
}

// NullStorage discards all runs. It is useful for benchmarks and for
// exercising the append path without a durable back-end.
type NullStorage struct {
	durable uint64
}

// NewNullStorage creates a discarding storage whose durable LSN starts
// at initialLSN.
func NewNullStorage(initialLSN uint64) *NullStorage {
	return &NullStorage{durable: initialLSN}
}

// Persist discards the run and accounts its bytes as durable.
func (s *NullStorage) Persist(ctx context.Context, data []byte) (int, error) {
	s.durable += uint64(len(data))
	return len(data), nil
}

// Flush reports the accounted durable LSN.
func (s *NullStorage) Flush(ctx context.Context) (uint64, error) {
	return s.durable, nil
}

// Ensure NullStorage implements Storage.
var _ Storage = (*NullStorage)(nil)
