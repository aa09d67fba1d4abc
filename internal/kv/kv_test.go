package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/onnwee/genetarget/internal/errkind"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Config{InMemory: true, MaxRetries: 64, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	if !errkind.Is(err, errkind.ConfigError) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	k := Key("fact", "gene_cancer", "KRAS", "PAAD")
	if got := Split(k); !reflect.DeepEqual(got, []string{"gene_cancer", "KRAS", "PAAD"}) {
		t.Errorf("Split() = %v", got)
	}

	p := Prefix("fact", "gene_cancer")
	if string(k[:len(p)]) != string(p) {
		t.Errorf("key %q does not start with prefix %q", k, p)
	}
	if string(Prefix("fact")) != "fact\x00" {
		t.Errorf("Prefix() with no parts = %q", Prefix("fact"))
	}
}

// TestUpdateWithRetry_ConcurrentCounter increments one key from many goroutines;
// conflicting commits must be retried so no increment is lost.
func TestUpdateWithRetry_ConcurrentCounter(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	key := []byte("counter")

	incr := func(txn *badger.Txn) error {
		var n uint64
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				n = binary.BigEndian.Uint64(v)
				return nil
			}); err != nil {
				return err
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n+1)
		return txn.Set(key, buf)
	}

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := d.UpdateWithRetry(ctx, "incr", incr); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("UpdateWithRetry() error = %v", err)
	}

	var got uint64
	err := d.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			got = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got != workers*perWorker {
		t.Errorf("counter = %d, want %d", got, workers*perWorker)
	}
}

func TestUpdateWithRetry_CancelledContext(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.UpdateWithRetry(ctx, "noop", func(txn *badger.Txn) error { return nil })
	if !errkind.Is(err, errkind.TransientIO) {
		t.Errorf("expected TransientIO, got %v", err)
	}
}

func TestUpdateWithRetry_NonConflictErrorNotRetried(t *testing.T) {
	d := newTestDB(t)
	calls := 0
	boom := errors.New("boom")

	err := d.UpdateWithRetry(context.Background(), "fail", func(txn *badger.Txn) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}
