// Package fs provides a memory-mapped file wal.Storage implementation.
//
// Runs are appended to a single mmap'd file. The OS flushes dirty pages
// asynchronously, so Persist stays close to memory speed; Flush forces a
// synchronous msync and advances the durable LSN.
//
// File Format:
//
//	Header (64 bytes):
//	  - Magic: "RWAL" (4 bytes)
//	  - Version: uint16 (2 bytes)
//	  - Run count: uint32 (4 bytes)
//	  - Next write offset: uint64 (8 bytes)
//	  - Handed LSN: uint64 (8 bytes)
//	  - Durable LSN: uint64 (8 bytes)
//	  - Reserved: 30 bytes
//
//	Runs (variable):
//	  - First LSN: uint64 (8 bytes)
//	  - Length: uint32 (4 bytes)
//	  - Data: variable
package fs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/marmos91/ringwal/pkg/wal"
)

// Store errors
var (
	// ErrStoreClosed is returned when operations are attempted on a
	// closed store.
	ErrStoreClosed = errors.New("fs store is closed")

	// ErrCorrupted is returned when the log file fails validation.
	ErrCorrupted = errors.New("wal file corrupted")

	// ErrVersionMismatch is returned when the log file was written by
	// an incompatible version.
	ErrVersionMismatch = errors.New("wal file version mismatch")
)

const (
	fileMagic    = "RWAL"
	fileVersion  = uint16(1)
	headerSize   = 64
	frameHeader  = 12 // first LSN + length
	initialSize  = 64 << 20
	growthFactor = 2
)

type header struct {
	runCount   uint32
	nextOffset uint64
	handedLSN  uint64
	durableLSN uint64
}

// Config holds configuration for the file store.
type Config struct {
	// Path is the directory holding the log file (wal.dat is created
	// inside it).
	Path string

	// InitialLSN seeds LSN accounting when the file does not exist
	// yet. Ignored when opening an existing file.
	InitialLSN uint64

	// InitialSize is the initial file size in bytes. Default 64Mi.
	InitialSize int
}

// Store is an mmap-backed implementation of wal.Storage.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	size   uint64
	hdr    header
	dirty  bool
	closed bool
}

// Run is one replayed segment run.
type Run struct {
	FirstLSN uint64
	Data     []byte
}

// Open opens or creates the log file under cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("fs store: path is required")
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = initialSize
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s := &Store{path: filepath.Join(cfg.Path, "wal.dat")}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.openExisting(); err != nil {
			return nil, err
		}
	} else {
		if err := s.createNew(cfg); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) createNew(cfg Config) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if err := f.Truncate(int64(cfg.InitialSize)); err != nil {
		f.Close()
		return fmt.Errorf("truncate file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, cfg.InitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	s.file = f
	s.data = data
	s.size = uint64(cfg.InitialSize)
	s.hdr = header{
		nextOffset: headerSize,
		handedLSN:  cfg.InitialLSN,
		durableLSN: cfg.InitialLSN,
	}
	s.writeHeader()

	return nil
}

func (s *Store) openExisting() error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat file: %w", err)
	}

	size := uint64(info.Size())
	if size < headerSize {
		f.Close()
		return ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	s.file = f
	s.data = data
	s.size = size

	if string(data[0:4]) != fileMagic {
		s.closeLocked()
		return ErrCorrupted
	}
	if binary.LittleEndian.Uint16(data[4:6]) != fileVersion {
		s.closeLocked()
		return ErrVersionMismatch
	}

	s.hdr = header{
		runCount:   binary.LittleEndian.Uint32(data[6:10]),
		nextOffset: binary.LittleEndian.Uint64(data[10:18]),
		handedLSN:  binary.LittleEndian.Uint64(data[18:26]),
		durableLSN: binary.LittleEndian.Uint64(data[26:34]),
	}
	if s.hdr.nextOffset < headerSize || s.hdr.nextOffset > s.size {
		s.closeLocked()
		return ErrCorrupted
	}

	return nil
}

// Persist appends one segment run to the log file.
func (s *Store) Persist(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	if err := s.ensureSpace(uint64(frameHeader + len(data))); err != nil {
		return 0, err
	}

	offset := s.hdr.nextOffset
	binary.LittleEndian.PutUint64(s.data[offset:], s.hdr.handedLSN)
	offset += 8
	binary.LittleEndian.PutUint32(s.data[offset:], uint32(len(data)))
	offset += 4
	copy(s.data[offset:], data)
	offset += uint64(len(data))

	s.hdr.nextOffset = offset
	s.hdr.runCount++
	s.hdr.handedLSN += uint64(len(data))
	s.writeHeader()
	s.dirty = true

	return len(data), nil
}

// Flush msyncs the file and advances the durable LSN to cover every run
// handed to Persist so far.
func (s *Store) Flush(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	if s.dirty {
		if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
			return 0, fmt.Errorf("msync: %w", err)
		}
		s.dirty = false
		s.hdr.durableLSN = s.hdr.handedLSN
		s.writeHeader()
	}

	return s.hdr.durableLSN, nil
}

// Runs replays the file and returns all runs in append order.
func (s *Store) Runs() ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var runs []Run
	offset := uint64(headerSize)

	for offset < s.hdr.nextOffset {
		if offset+frameHeader > s.size {
			return nil, ErrCorrupted
		}

		first := binary.LittleEndian.Uint64(s.data[offset:])
		length := binary.LittleEndian.Uint32(s.data[offset+8:])
		offset += frameHeader

		if offset+uint64(length) > s.size {
			return nil, ErrCorrupted
		}

		data := make([]byte, length)
		copy(data, s.data[offset:offset+uint64(length)])
		offset += uint64(length)

		runs = append(runs, Run{FirstLSN: first, Data: data})
	}

	return runs, nil
}

// Close syncs and releases the mmap and file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.data != nil {
		_ = unix.Msync(s.data, unix.MS_SYNC)
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		s.data = nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		s.file = nil
	}

	return nil
}

func (s *Store) writeHeader() {
	copy(s.data[0:4], fileMagic)
	binary.LittleEndian.PutUint16(s.data[4:6], fileVersion)
	binary.LittleEndian.PutUint32(s.data[6:10], s.hdr.runCount)
	binary.LittleEndian.PutUint64(s.data[10:18], s.hdr.nextOffset)
	binary.LittleEndian.PutUint64(s.data[18:26], s.hdr.handedLSN)
	binary.LittleEndian.PutUint64(s.data[26:34], s.hdr.durableLSN)
}

func (s *Store) ensureSpace(needed uint64) error {
	if s.hdr.nextOffset+needed <= s.size {
		return nil
	}

	newSize := s.size * growthFactor
	for s.hdr.nextOffset+needed > newSize {
		newSize *= growthFactor
	}

	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	if err := s.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	data, err := unix.Mmap(int(s.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	s.data = data
	s.size = newSize

	return nil
}

// Ensure Store implements wal.Storage.
var _ wal.Storage = (*Store)(nil)
