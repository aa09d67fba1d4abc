// Package kv wraps an embedded Badger database for deployments without a SQL
// server. Badger has no native conditional upsert, so writers go through
// UpdateWithRetry: an optimistic transaction that is retried when a concurrent
// commit touched the same keys.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/onnwee/genetarget/internal/errkind"
)

// DefaultMaxRetries bounds the optimistic retry loop.
const DefaultMaxRetries = 8

// ErrRetriesExhausted is returned when every optimistic attempt conflicted.
var ErrRetriesExhausted = errors.New("optimistic transaction retries exhausted")

// Config holds Badger settings.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in RAM (tests, dry runs).
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// MaxRetries bounds optimistic retries per write. Zero means DefaultMaxRetries.
	MaxRetries int
	Logger     *slog.Logger
}

// DB is an opened Badger database plus its retry policy.
type DB struct {
	bdb        *badger.DB
	maxRetries int
	logger     *slog.Logger
}

// Open opens the Badger database described by cfg.
func Open(cfg Config) (*DB, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errkind.New(errkind.ConfigError, "kv open", "badger directory is required")
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(badgerLogger{cfg.Logger}).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &DB{bdb: bdb, maxRetries: cfg.MaxRetries, logger: cfg.Logger}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.bdb.Close()
}

// Badger exposes the underlying handle for read-only views and health checks.
func (d *DB) Badger() *badger.DB {
	return d.bdb
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	return d.bdb.View(fn)
}

// UpdateWithRetry runs fn in a read-write transaction and commits it. When the
// commit fails with badger.ErrConflict (another writer committed a key fn read)
// the whole transaction is re-run on a fresh snapshot, at most MaxRetries times.
// fn must be free of side effects outside txn.
func (d *DB) UpdateWithRetry(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errkind.Wrap(errkind.TransientIO, op, err)
		}

		err := d.bdb.Update(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		lastErr = err
		d.logger.Debug("optimistic transaction conflict, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt))

		// Short linear pause so contending writers spread out.
		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.TransientIO, op, ctx.Err())
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	return errkind.Wrap(errkind.TransientIO, op, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr))
}

// badgerLogger routes Badger's internal logging into slog. Info and debug
// chatter is dropped to debug level.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
