// Package wal implements a multi-writer write-ahead log core.
//
// The log accepts ordered byte appends from many concurrent goroutines
// and assigns each a monotonically increasing log sequence number (LSN).
// Appends land in a fixed ring of pre-allocated segments; writers reserve
// byte ranges lock-free via atomic CAS, so the hot path never blocks on a
// mutex. When a segment fills, one writer performs the rotation hand-off:
// it drains in-flight writers, transitions the segment to Writing, and
// activates the successor before the old bytes reach storage ("early
// activation"), keeping append latency decoupled from storage latency.
//
// Durability is delegated to a pluggable Storage back-end, which receives
// the filled prefix of every rotated segment as one contiguous run.
// Consecutive runs carry consecutive LSN ranges; the on-media layout is
// entirely the back-end's concern.
//
// Thread Safety:
// All exported Log methods are safe for concurrent use. Buffer and
// Segment are safe under the reservation contract documented on each
// type.
package wal

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/ringwal/internal/logger"
)

// Config holds construction parameters for a Log.
type Config struct {
	// InitialLSN is the LSN assigned to the first appended byte.
	InitialLSN uint64

	// Segments is the ring size. At least 2. A segment whose persist
	// failed stays Writing until the ring wraps back to it, when the
	// rotation re-drives its persist.
	Segments int

	// SegmentSize is the capacity of each segment buffer in bytes.
	// It should exceed the expected burst size; appends larger than a
	// segment are split across rotations automatically.
	SegmentSize int

	// Storage receives rotated segment runs. Required.
	Storage Storage

	// Metrics receives append/rotation measurements. Optional; nil
	// disables instrumentation with zero overhead.
	Metrics Metrics
}

// Stats is a point-in-time snapshot of log counters.
type Stats struct {
	Appends         uint64
	AppendedBytes   uint64
	Rotations       uint64
	PersistFailures uint64
}

// Log is a ring of segments plus the coordination needed to rotate them.
//
// Exactly one segment is Active at any time; its ring position is held in
// current. Rotation is single-flight: the rotating latch admits one owner
// while other writers yield and retry against the (possibly new) active
// segment.
type Log struct {
	segments []*Segment
	current  atomic.Uint32
	rotating atomic.Bool

	storageMu sync.Mutex
	storage   Storage

	metrics Metrics

	appends         atomic.Uint64
	appendedBytes   atomic.Uint64
	rotations       atomic.Uint64
	persistFailures atomic.Uint64
}

// New creates a log with cfg.Segments pre-allocated segments. Segment 0
// starts Active with base LSN cfg.InitialLSN; the rest start Queued.
func New(cfg Config) (*Log, error) {
	if cfg.Segments < 2 {
		return nil, fmt.Errorf("wal: at least 2 segments required, got %d", cfg.Segments)
	}
	if cfg.SegmentSize < 1 {
		return nil, fmt.Errorf("wal: segment size must be positive, got %d", cfg.SegmentSize)
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("wal: storage is required")
	}

	l := &Log{
		segments: make([]*Segment, cfg.Segments),
		storage:  cfg.Storage,
		metrics:  cfg.Metrics,
	}

	for i := range l.segments {
		seg := NewSegment(cfg.SegmentSize)
		seg.SetBaseLSN(cfg.InitialLSN)
		l.segments[i] = seg
	}
	l.segments[0].SetState(StateActive)

	return l, nil
}

// Append writes data to the log and returns the LSN of its first byte.
//
// Appends larger than a segment are split across rotations; the chunks
// occupy consecutive LSNs, and the returned LSN is always that of the
// first chunk. Append never blocks on lock contention: reservation is a
// CAS loop, and a contended rotation resolves with a cooperative yield.
//
// On a storage error from an induced rotation, the error is returned to
// this caller. Bytes already placed keep their assigned LSNs and remain
// in memory for a later rotation to persist.
func (l *Log) Append(ctx context.Context, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyRecord
	}

	start := time.Now()

	var first uint64
	placed := false
	remaining := data

	for {
		seg := l.segments[l.current.Load()]

		if res, ok := seg.TryReserve(len(remaining)); ok {
			if !placed {
				first = res.LSN
				placed = true
			}

			seg.Write(res.Pos, remaining[:res.N])
			seg.FinishWrite()
			remaining = remaining[res.N:]

			if len(remaining) == 0 {
				l.appends.Add(1)
				l.appendedBytes.Add(uint64(len(data)))
				if l.metrics != nil {
					l.metrics.ObserveAppend(int64(len(data)), time.Since(start))
				}
				return first, nil
			}
		}

		// Full or no longer active: rotate and retry against the fresh
		// active segment.
		if err := l.rotate(ctx); err != nil {
			return 0, err
		}
	}
}

// Rotate forces one hand-off of the active segment to storage. It is the
// companion to Flush for callers that need the active tail durable:
// rotate first, then flush. Rotating an empty active segment is a no-op.
func (l *Log) Rotate(ctx context.Context) error {
	for {
		if l.rotating.CompareAndSwap(false, true) {
			err := l.rotateLocked(ctx)
			l.rotating.Store(false)
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}

// Flush forces previously rotated runs durable and returns the LSN one
// past the last durable byte.
//
// Flush does not rotate the active segment; bytes still buffered there
// are not covered by the returned LSN. Use Rotate first when the tail
// must be included.
func (l *Log) Flush(ctx context.Context) (uint64, error) {
	l.storageMu.Lock()
	defer l.storageMu.Unlock()

	lsn, err := l.storage.Flush(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush storage: %w", err)
	}
	return lsn, nil
}

// Stats returns a snapshot of the log's counters.
func (l *Log) Stats() Stats {
	return Stats{
		Appends:         l.appends.Load(),
		AppendedBytes:   l.appendedBytes.Load(),
		Rotations:       l.rotations.Load(),
		PersistFailures: l.persistFailures.Load(),
	}
}

// Segments returns the ring size.
func (l *Log) Segments() int {
	return len(l.segments)
}

// rotate performs the hand-off if the latch is free. When another
// rotation is in flight it yields and reports success: the caller's next
// loop iteration re-reads the current index, which may already name the
// fresh segment.
func (l *Log) rotate(ctx context.Context) error {
	if !l.rotating.CompareAndSwap(false, true) {
		runtime.Gosched()
		return nil
	}
	defer l.rotating.Store(false)

	return l.rotateLocked(ctx)
}

// rotateLocked is the rotation body. The caller holds the rotation
// latch.
func (l *Log) rotateLocked(ctx context.Context) error {
	start := time.Now()

	cur := int(l.current.Load())
	next := (cur + 1) % len(l.segments)
	old := l.segments[cur]
	target := l.segments[next]

	// A rotation we raced with may already have installed a fresh
	// segment; an empty active segment has nothing to hand off.
	if old.WritePos() == 0 {
		return nil
	}

	switch target.State() {
	case StateQueued:
	case StateWriting:
		// A previous rotation activated us but its persist failed,
		// leaving the target Writing with stable bytes. Re-drive that
		// persist; only on success can the rotation proceed.
		if err := l.persist(ctx, next, target); err != nil {
			return err
		}
	default:
		// An Active target would mean two active segments; the ring
		// cannot continue from that.
		return &InvariantError{Segment: next, State: target.State(), Msg: "rotation target must be queued"}
	}

	// Drain in-flight writers, then take the segment out of admission.
	// A latecomer admitted between the zero-count observation and the
	// CAS makes TryBeginWriting fail and forces another drain round.
	for {
		for {
			state, writers := old.snapshot()
			if state != StateActive {
				return &InvariantError{Segment: cur, State: state, Msg: "rotation source must be active"}
			}
			if writers == 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		if old.TryBeginWriting() {
			break
		}
	}

	// Early activation: publish the successor before the old bytes are
	// persisted. Continuity is fixed here (base of next = base of old +
	// filled bytes), and the target buffer is known clear because it
	// was Queued.
	base := old.BaseLSN() + uint64(old.WritePos())
	target.SetBaseLSN(base)
	target.SetState(StateActive)
	l.current.Store(uint32(next))

	l.rotations.Add(1)
	logger.Debug("Segment rotated",
		"from", cur,
		"to", next,
		"baseLSN", base,
		"runBytes", old.WritePos())

	err := l.persist(ctx, cur, old)

	if l.metrics != nil {
		l.metrics.ObserveRotation(time.Since(start))
	}

	return err
}

// persist hands one Writing segment's run to storage and, on success,
// returns the segment to the Queued state with a cleared buffer. On
// failure the segment stays Writing so its bytes survive for a retry.
func (l *Log) persist(ctx context.Context, index int, seg *Segment) error {
	run := seg.Bytes()
	start := time.Now()

	l.storageMu.Lock()
	n, err := l.storage.Persist(ctx, run)
	l.storageMu.Unlock()

	if err == nil && n != len(run) {
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortPersist, n, len(run))
	}
	if err != nil {
		l.persistFailures.Add(1)
		if l.metrics != nil {
			l.metrics.RecordPersistFailure()
		}
		logger.Error("Segment persist failed",
			"segment", index,
			"runBytes", len(run),
			"error", err)
		return fmt.Errorf("persist segment %d: %w", index, err)
	}

	seg.clear()
	seg.SetState(StateQueued)

	if l.metrics != nil {
		l.metrics.ObservePersist(int64(len(run)), time.Since(start))
	}

	return nil
}
