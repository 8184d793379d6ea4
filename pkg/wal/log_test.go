package wal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// stubStorage records persisted runs and can be told to fail specific
// persist calls.
type stubStorage struct {
	mu      sync.Mutex
	runs    [][]byte
	durable uint64
	calls   int
	failOn  map[int]error // 1-based persist call number -> error
}

func (s *stubStorage) Persist(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if err := s.failOn[s.calls]; err != nil {
		return 0, err
	}

	run := make([]byte, len(data))
	copy(run, data)
	s.runs = append(s.runs, run)
	s.durable += uint64(len(run))
	return len(run), nil
}

func (s *stubStorage) Flush(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durable, nil
}

func (s *stubStorage) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte
	for _, run := range s.runs {
		out = append(out, run...)
	}
	return out
}

func (s *stubStorage) persistCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestLog(t *testing.T, segments, segmentSize int, storage Storage) *Log {
	t.Helper()

	l, err := New(Config{
		Segments:    segments,
		SegmentSize: segmentSize,
		Storage:     storage,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestNew_Validation(t *testing.T) {
	storage := &stubStorage{}

	if _, err := New(Config{Segments: 1, SegmentSize: 4, Storage: storage}); err == nil {
		t.Error("New() with 1 segment: want error")
	}
	if _, err := New(Config{Segments: 2, SegmentSize: 0, Storage: storage}); err == nil {
		t.Error("New() with zero segment size: want error")
	}
	if _, err := New(Config{Segments: 2, SegmentSize: 4}); err == nil {
		t.Error("New() without storage: want error")
	}
}

func TestLog_InitialLSN(t *testing.T) {
	l, err := New(Config{
		InitialLSN:  1000,
		Segments:    2,
		SegmentSize: 16,
		Storage:     &stubStorage{durable: 1000},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lsn, err := l.Append(context.Background(), []byte("abc"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if lsn != 1000 {
		t.Errorf("Append() lsn = %d, want 1000", lsn)
	}
}

func TestLog_AppendEmpty(t *testing.T) {
	l := newTestLog(t, 2, 16, &stubStorage{})

	if _, err := l.Append(context.Background(), nil); !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("Append(nil) error = %v, want ErrEmptyRecord", err)
	}
}

// Tiny writes, no rotation: LSNs 0 and 3, cursor at 5, no persists.
func TestLog_TinyWrites(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 64, storage)
	ctx := context.Background()

	lsn, err := l.Append(ctx, []byte("abc"))
	if err != nil {
		t.Fatalf("Append(abc) error = %v", err)
	}
	if lsn != 0 {
		t.Errorf("Append(abc) lsn = %d, want 0", lsn)
	}

	lsn, err = l.Append(ctx, []byte("de"))
	if err != nil {
		t.Fatalf("Append(de) error = %v", err)
	}
	if lsn != 3 {
		t.Errorf("Append(de) lsn = %d, want 3", lsn)
	}

	if got := l.segments[0].WritePos(); got != 5 {
		t.Errorf("segment 0 cursor = %d, want 5", got)
	}
	if storage.persistCalls() != 0 {
		t.Errorf("persist calls = %d, want 0", storage.persistCalls())
	}
}

// Exact fill: the second append lands at the start of the next segment
// after one rotation persisting the first.
func TestLog_ExactFill(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 4, storage)
	ctx := context.Background()

	lsn, err := l.Append(ctx, []byte("abcd"))
	if err != nil {
		t.Fatalf("Append(abcd) error = %v", err)
	}
	if lsn != 0 {
		t.Errorf("Append(abcd) lsn = %d, want 0", lsn)
	}

	lsn, err = l.Append(ctx, []byte("efgh"))
	if err != nil {
		t.Fatalf("Append(efgh) error = %v", err)
	}
	if lsn != 4 {
		t.Errorf("Append(efgh) lsn = %d, want 4", lsn)
	}

	if storage.persistCalls() != 1 {
		t.Fatalf("persist calls = %d, want 1", storage.persistCalls())
	}
	if got := storage.joined(); !bytes.Equal(got, []byte("abcd")) {
		t.Errorf("persisted bytes = %q, want %q", got, "abcd")
	}

	if got := l.segments[0].State(); got != StateQueued {
		t.Errorf("segment 0 state = %v, want queued", got)
	}
	if got := l.segments[1].State(); got != StateActive {
		t.Errorf("segment 1 state = %v, want active", got)
	}
	if got := l.segments[1].BaseLSN(); got != 4 {
		t.Errorf("segment 1 base LSN = %d, want 4", got)
	}
	if got := l.segments[1].WritePos(); got != 4 {
		t.Errorf("segment 1 cursor = %d, want 4", got)
	}
}

// Split write: a payload larger than a segment spans a rotation and
// reports the LSN of its first byte.
func TestLog_SplitWrite(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 4, storage)

	lsn, err := l.Append(context.Background(), []byte("ABCDEFG"))
	if err != nil {
		t.Fatalf("Append(ABCDEFG) error = %v", err)
	}
	if lsn != 0 {
		t.Errorf("Append(ABCDEFG) lsn = %d, want 0", lsn)
	}

	if storage.persistCalls() != 1 {
		t.Fatalf("persist calls = %d, want 1", storage.persistCalls())
	}
	if got := storage.joined(); !bytes.Equal(got, []byte("ABCD")) {
		t.Errorf("persisted bytes = %q, want %q", got, "ABCD")
	}
	if got := l.segments[1].Bytes(); !bytes.Equal(got, []byte("EFG")) {
		t.Errorf("segment 1 bytes = %q, want %q", got, "EFG")
	}
}

// Concurrent small writes in one segment: distinct aligned LSNs, no
// rotation, and the buffer holds a permutation of the tokens.
func TestLog_ConcurrentSmallWrites(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 64, storage)
	ctx := context.Background()

	tokens := []string{"AA", "BB"}
	lsns := make([][]uint64, len(tokens))

	var wg sync.WaitGroup
	for w := range tokens {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				lsn, err := l.Append(ctx, []byte(tokens[id]))
				if err != nil {
					t.Errorf("writer %d: Append error = %v", id, err)
					return
				}
				lsns[id] = append(lsns[id], lsn)
			}
		}(w)
	}
	wg.Wait()

	if storage.persistCalls() != 0 {
		t.Errorf("persist calls = %d, want 0", storage.persistCalls())
	}

	seen := make(map[uint64]bool)
	for id, ls := range lsns {
		for _, lsn := range ls {
			if lsn >= 40 {
				t.Errorf("writer %d: lsn %d out of range [0, 40)", id, lsn)
			}
			if lsn%2 != 0 {
				t.Errorf("writer %d: lsn %d not a multiple of 2", id, lsn)
			}
			if seen[lsn] {
				t.Errorf("lsn %d assigned twice", lsn)
			}
			seen[lsn] = true
		}
	}
	if len(seen) != 20 {
		t.Errorf("distinct LSNs = %d, want 20", len(seen))
	}

	stream := l.segments[0].Bytes()
	if len(stream) != 40 {
		t.Fatalf("segment 0 bytes = %d, want 40", len(stream))
	}
	counts := map[string]int{}
	for i := 0; i < len(stream); i += 2 {
		counts[string(stream[i:i+2])]++
	}
	if counts["AA"] != 10 || counts["BB"] != 10 {
		t.Errorf("token counts = %v, want 10 AA and 10 BB", counts)
	}

	// Every writer's payload sits at its reported LSN.
	for id, ls := range lsns {
		for _, lsn := range ls {
			if got := string(stream[lsn : lsn+2]); got != tokens[id] {
				t.Errorf("bytes at lsn %d = %q, want %q", lsn, got, tokens[id])
			}
		}
	}
}

// Forced rotations under contention: per-writer byte patterns survive
// splitting, all LSNs are distinct, and the rebuilt stream carries every
// byte exactly once.
func TestLog_RotationUnderContention(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 3, 8, storage)
	ctx := context.Background()

	letters := []byte{'a', 'b', 'c'}
	type result struct {
		lsn    uint64
		letter byte
	}
	results := make([][]result, len(letters))

	var wg sync.WaitGroup
	for w := range letters {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{letters[id]}, 4)
			for i := 0; i < 3; i++ {
				lsn, err := l.Append(ctx, payload)
				if err != nil {
					t.Errorf("writer %c: Append error = %v", letters[id], err)
					return
				}
				results[id] = append(results[id], result{lsn, letters[id]})
			}
		}(w)
	}
	wg.Wait()

	// Hand the tail to storage so the full stream can be rebuilt.
	if err := l.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	stream := storage.joined()
	if len(stream) != 36 {
		t.Fatalf("rebuilt stream = %d bytes, want 36", len(stream))
	}

	counts := map[byte]int{}
	for _, c := range stream {
		counts[c]++
	}
	for _, letter := range letters {
		if counts[letter] != 12 {
			t.Errorf("letter %c count = %d, want 12", letter, counts[letter])
		}
	}

	seen := make(map[uint64]bool)
	for _, rs := range results {
		for _, r := range rs {
			if r.lsn >= 36 {
				t.Errorf("lsn %d out of range [0, 36)", r.lsn)
				continue
			}
			if seen[r.lsn] {
				t.Errorf("lsn %d assigned twice", r.lsn)
			}
			seen[r.lsn] = true

			if stream[r.lsn] != r.letter {
				t.Errorf("byte at lsn %d = %c, want %c", r.lsn, stream[r.lsn], r.letter)
			}
		}
	}
	if len(seen) != 9 {
		t.Errorf("distinct LSNs = %d, want 9", len(seen))
	}
}

// A single writer's stream rebuilds verbatim across multiple rotations.
func TestLog_SequentialRoundTrip(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 3, 8, storage)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := l.Append(ctx, []byte("abcd")); err != nil {
			t.Fatalf("Append %d error = %v", i, err)
		}
	}

	if err := l.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	stream := string(storage.joined())
	if len(stream) != 36 {
		t.Fatalf("rebuilt stream = %d bytes, want 36", len(stream))
	}
	if got := strings.Count(stream, "abcd"); got != 9 {
		t.Errorf("stream contains %d %q substrings, want 9", got, "abcd")
	}
}

// A failed persist surfaces to the writer that triggered the rotation,
// keeps the segment's bytes, and heals once storage recovers.
func TestLog_PersistFailureIsolatesToCaller(t *testing.T) {
	wantErr := errors.New("disk on fire")
	storage := &stubStorage{failOn: map[int]error{2: wantErr}}
	l := newTestLog(t, 2, 4, storage)
	ctx := context.Background()

	if lsn, err := l.Append(ctx, []byte("abcd")); err != nil || lsn != 0 {
		t.Fatalf("Append(abcd) = (%d, %v), want (0, nil)", lsn, err)
	}

	// Rotation 1 persists "abcd" successfully.
	if lsn, err := l.Append(ctx, []byte("efgh")); err != nil || lsn != 4 {
		t.Fatalf("Append(efgh) = (%d, %v), want (4, nil)", lsn, err)
	}

	// Rotation 2: persist of "efgh" fails. The error lands on this
	// caller; segment 1 stays Writing with its bytes intact, and the
	// freshly activated segment 0 is already accepting writes.
	if _, err := l.Append(ctx, []byte("ijkl")); !errors.Is(err, wantErr) {
		t.Fatalf("Append(ijkl) error = %v, want %v", err, wantErr)
	}

	if got := l.segments[1].State(); got != StateWriting {
		t.Errorf("segment 1 state = %v, want writing", got)
	}
	if got := l.segments[1].Bytes(); !bytes.Equal(got, []byte("efgh")) {
		t.Errorf("segment 1 bytes = %q, want %q", got, "efgh")
	}

	// Storage recovered: the retried append lands at the LSN continuity
	// point, and the next rotation re-drives the stuck persist.
	lsn, err := l.Append(ctx, []byte("ijkl"))
	if err != nil {
		t.Fatalf("retried Append(ijkl) error = %v", err)
	}
	if lsn != 8 {
		t.Errorf("retried Append(ijkl) lsn = %d, want 8", lsn)
	}

	if err := l.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if got := storage.joined(); !bytes.Equal(got, []byte("abcdefghijkl")) {
		t.Errorf("rebuilt stream = %q, want %q", got, "abcdefghijkl")
	}

	stats := l.Stats()
	if stats.PersistFailures != 1 {
		t.Errorf("Stats().PersistFailures = %d, want 1", stats.PersistFailures)
	}
}

// When storage stays down, rotations keep failing without corrupting
// LSN accounting.
func TestLog_PersistFailurePersists(t *testing.T) {
	wantErr := errors.New("still down")
	storage := &stubStorage{failOn: map[int]error{2: wantErr, 3: wantErr}}
	l := newTestLog(t, 2, 4, storage)
	ctx := context.Background()

	mustAppend := func(payload string, want uint64) {
		t.Helper()
		lsn, err := l.Append(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("Append(%s) error = %v", payload, err)
		}
		if lsn != want {
			t.Fatalf("Append(%s) lsn = %d, want %d", payload, lsn, want)
		}
	}

	mustAppend("abcd", 0)
	mustAppend("efgh", 4) // rotation 1 persists "abcd"

	// Persist of "efgh" (call 2) fails; segment 0 is already active, so
	// the retried append lands there.
	if _, err := l.Append(ctx, []byte("ijkl")); !errors.Is(err, wantErr) {
		t.Fatalf("Append(ijkl) error = %v, want %v", err, wantErr)
	}
	mustAppend("ijkl", 8)

	// Segment 0 is full again; its rotation target is still Writing, so
	// the re-drive runs (call 3) and fails.
	if _, err := l.Append(ctx, []byte("mnop")); !errors.Is(err, wantErr) {
		t.Fatalf("Append(mnop) error = %v, want %v", err, wantErr)
	}

	// Call 4 succeeds: the stuck run, then the rest, in LSN order.
	mustAppend("mnop", 12)
	if err := l.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if got := storage.joined(); !bytes.Equal(got, []byte("abcdefghijklmnop")) {
		t.Errorf("rebuilt stream = %q, want %q", got, "abcdefghijklmnop")
	}
}

func TestLog_RotateEmptyIsNoop(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 16, storage)

	if err := l.Rotate(context.Background()); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if storage.persistCalls() != 0 {
		t.Errorf("persist calls = %d, want 0", storage.persistCalls())
	}
}

func TestLog_Flush(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 2, 4, storage)
	ctx := context.Background()

	if _, err := l.Append(ctx, []byte("abcd")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Nothing rotated yet: flush covers no bytes.
	lsn, err := l.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if lsn != 0 {
		t.Errorf("Flush() = %d, want 0", lsn)
	}

	if err := l.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	lsn, err = l.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() after Rotate error = %v", err)
	}
	if lsn != 4 {
		t.Errorf("Flush() after Rotate = %d, want 4", lsn)
	}
}

// Unique-Active invariant holds at quiescence after heavy churn.
func TestLog_UniqueActiveInvariant(t *testing.T) {
	storage := &stubStorage{}
	l := newTestLog(t, 4, 16, storage)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + id)}, 5)
			for i := 0; i < 50; i++ {
				if _, err := l.Append(ctx, payload); err != nil {
					t.Errorf("writer %d: Append error = %v", id, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	active := 0
	for i, seg := range l.segments {
		state, writers := seg.snapshot()
		if writers != 0 {
			t.Errorf("segment %d has %d writers at quiescence", i, writers)
		}
		if state == StateActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active segments = %d, want 1", active)
	}

	stats := l.Stats()
	if stats.Appends != 200 {
		t.Errorf("Stats().Appends = %d, want 200", stats.Appends)
	}
	if stats.AppendedBytes != 1000 {
		t.Errorf("Stats().AppendedBytes = %d, want 1000", stats.AppendedBytes)
	}
}
