// Package bufpool provides a tiered buffer pool for payload reuse.
//
// Byte slices are pooled in power-of-two-ish size classes to cut
// allocation churn on hot append paths. Buffers above the largest class
// are allocated directly and never pooled, so occasional huge payloads
// don't pin memory.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Size classes in bytes. Requests are rounded up to the next class.
const (
	SmallSize  = 4 << 10
	MediumSize = 64 << 10
	LargeSize  = 1 << 20
)

var classSizes = [...]int{SmallSize, MediumSize, LargeSize}

// Pool manages byte slices organized by size class.
type Pool struct {
	classes [len(classSizes)]sync.Pool
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	for i, size := range classSizes {
		size := size
		p.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of exactly the requested length, backed by a
// pooled buffer of the next size class. Sizes above LargeSize are
// allocated directly and will not be pooled.
func (p *Pool) Get(size int) []byte {
	for i, classSize := range classSizes {
		if size <= classSize {
			buf := *p.classes[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get to the pool. Oversized buffers
// are dropped for the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	for i, classSize := range classSizes {
		if cap(buf) == classSize {
			full := buf[:cap(buf)]
			p.classes[i].Put(&full)
			return
		}
	}
}

// globalPool serves the package-level Get/Put convenience functions.
var globalPool = NewPool()

// Get returns a slice of the requested length from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
