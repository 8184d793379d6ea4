package wal

import (
	"time"
)

// Metrics receives measurements from the append and rotation paths.
//
// A nil Metrics is valid and results in zero overhead; the log checks
// for nil at every call site.
type Metrics interface {
	// ObserveAppend records a completed append with its payload size and
	// end-to-end duration (including any rotations it triggered).
	ObserveAppend(bytes int64, duration time.Duration)

	// ObserveRotation records a completed rotation hand-off.
	ObserveRotation(duration time.Duration)

	// ObservePersist records a successful storage persist of one
	// segment run.
	ObservePersist(bytes int64, duration time.Duration)

	// RecordPersistFailure records a failed storage persist.
	RecordPersistFailure()
}
