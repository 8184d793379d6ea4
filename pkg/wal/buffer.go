package wal

import (
	"sync/atomic"
)

// Buffer is a fixed-capacity byte region with an atomic write cursor.
//
// Writers claim byte ranges through TryReserve, which advances the cursor
// with a CAS and never blocks. A reservation grants the caller exclusive
// ownership of the range [pos, pos+granted) until the accompanying Write
// completes, so the copy itself needs no synchronization.
//
// The cursor only moves forward until Clear resets it. Clear must not be
// called while reservations are live; the Log's rotation enforces this
// by only clearing after a segment has drained and been persisted.
type Buffer struct {
	data     []byte
	writePos atomic.Int64
}

// NewBuffer allocates a buffer with the given capacity in bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// TryReserve claims up to n bytes starting at the current cursor.
//
// It returns the start position and the granted length. The grant may be
// smaller than requested when less space remains (partial reservation);
// ok is false only when the buffer is already full. A successful grant is
// never zero bytes.
func (b *Buffer) TryReserve(n int) (pos, granted int, ok bool) {
	for {
		cur := b.writePos.Load()
		free := int64(len(b.data)) - cur
		if free <= 0 {
			return 0, 0, false
		}

		grant := int64(n)
		if grant > free {
			grant = free
		}

		if b.writePos.CompareAndSwap(cur, cur+grant) {
			return int(cur), int(grant), true
		}
	}
}

// Write copies p into the buffer at pos.
//
// The range [pos, pos+len(p)) must lie within a reservation previously
// granted to the caller. Disjoint reservations never overlap, so the copy
// is race-free without locking.
func (b *Buffer) Write(pos int, p []byte) {
	copy(b.data[pos:pos+len(p)], p)
}

// Clear resets the cursor to zero, making the full capacity available
// again. The caller must guarantee no reservations are live.
func (b *Buffer) Clear() {
	b.writePos.Store(0)
}

// Cap returns the buffer capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// WritePos returns the current cursor position.
func (b *Buffer) WritePos() int {
	return int(b.writePos.Load())
}

// Bytes returns the filled prefix [0, WritePos()).
//
// The slice aliases the buffer's backing array. It is stable only while
// no reservations are live and Clear has not been called, which holds for
// a segment in the Writing state.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.writePos.Load()]
}
