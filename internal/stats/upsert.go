// Package stats keeps running tallies of ledger upserts so long runs can report
// how much evidence was new versus accumulated onto existing rows.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats counts upsert outcomes. Safe for concurrent use.
type UpsertStats struct {
	inserted atomic.Int64 // rows created by the upsert
	updated  atomic.Int64 // rows that already existed and were accumulated onto
	rejected atomic.Int64 // upserts that failed or were refused
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Inserted int64
	Updated  int64
	Rejected int64
}

// NewUpsertStats creates an empty UpsertStats.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// Record counts one successful upsert.
func (s *UpsertStats) Record(inserted bool) {
	if inserted {
		s.inserted.Add(1)
		return
	}
	s.updated.Add(1)
}

// RecordReject counts one failed upsert.
func (s *UpsertStats) RecordReject() {
	s.rejected.Add(1)
}

// Snapshot returns the current counters.
func (s *UpsertStats) Snapshot() Snapshot {
	return Snapshot{
		Inserted: s.inserted.Load(),
		Updated:  s.updated.Load(),
		Rejected: s.rejected.Load(),
	}
}

// Total returns successful upserts (inserts + updates).
func (s Snapshot) Total() int64 {
	return s.Inserted + s.Updated
}

// Sub returns the counter deltas since an earlier snapshot.
func (s Snapshot) Sub(earlier Snapshot) Snapshot {
	return Snapshot{
		Inserted: s.Inserted - earlier.Inserted,
		Updated:  s.Updated - earlier.Updated,
		Rejected: s.Rejected - earlier.Rejected,
	}
}

// Reset zeroes all counters.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
	s.rejected.Store(0)
}

// String returns a compact summary.
func (s *UpsertStats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("inserted=%d updated=%d rejected=%d", snap.Inserted, snap.Updated, snap.Rejected)
}

// LogSummary logs the counters at INFO for entity (e.g. "facts").
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	snap := s.Snapshot()
	logger.Info("upsert statistics",
		slog.String("entity", entity),
		slog.Int64("inserted", snap.Inserted),
		slog.Int64("updated", snap.Updated),
		slog.Int64("rejected", snap.Rejected),
		slog.Int64("total", snap.Total()),
	)
}
