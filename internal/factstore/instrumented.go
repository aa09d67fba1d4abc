package factstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/genetarget/internal/stats"
	"github.com/onnwee/genetarget/internal/tracing"
)

// InstrumentedStore decorates a Store with merge metrics, insert/update
// counters and tracing spans. Reads pass straight through.
type InstrumentedStore struct {
	Store
	backend string
	metrics *Metrics
	stats   *stats.UpsertStats
	logger  *slog.Logger
}

// Instrument wraps store. metrics and counters may be nil.
func Instrument(store Store, metrics *Metrics, counters *stats.UpsertStats, logger *slog.Logger) *InstrumentedStore {
	if logger == nil {
		logger = slog.Default()
	}
	backend := "unknown"
	if s, ok := store.(fmt.Stringer); ok {
		backend = s.String()
	}
	return &InstrumentedStore{
		Store:   store,
		backend: backend,
		metrics: metrics,
		stats:   counters,
		logger:  logger,
	}
}

// Merge implements Store. A returned count equal to the delta means the fact
// did not exist before this merge.
func (s *InstrumentedStore) Merge(ctx context.Context, inc Increment) (count int64, err error) {
	ctx, end := tracing.StartStoreSpan(ctx, s.backend, "facts", tracing.StoreMerge)
	defer func() { end(err) }()

	start := time.Now()
	count, err = s.Store.Merge(ctx, inc)
	if s.metrics != nil {
		s.metrics.ObserveMergeDuration(time.Since(start).Seconds())
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.IncMerge(inc.Type, OutcomeError)
		}
		if s.stats != nil {
			s.stats.RecordReject()
		}
		return 0, err
	}

	inserted := count == inc.Delta
	if s.stats != nil {
		s.stats.Record(inserted)
	}
	if s.metrics != nil {
		outcome := OutcomeUpdated
		if inserted {
			outcome = OutcomeInserted
		}
		s.metrics.IncMerge(inc.Type, outcome)
	}
	return count, nil
}

// Aggregate implements Store.
func (s *InstrumentedStore) Aggregate(ctx context.Context, subject string) (agg Aggregate, err error) {
	ctx, end := tracing.StartStoreSpan(ctx, s.backend, "facts", tracing.StoreAggregate)
	defer func() { end(err) }()
	return s.Store.Aggregate(ctx, subject)
}

// String names the wrapped backend.
func (s *InstrumentedStore) String() string {
	return s.backend
}
