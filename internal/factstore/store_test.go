package factstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/onnwee/genetarget/internal/db"
	"github.com/onnwee/genetarget/internal/db/dbtest"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/kv"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	bdb, err := kv.Open(kv.Config{InMemory: true, Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })

	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": NewSQLStore(dbtest.OpenSQLite(t), db.DriverSQLite, newTestLogger()),
		"badger": NewBadgerStore(bdb, newTestLogger()),
	}
}

func inc(factType FactType, subject, object string, delta int64) Increment {
	return Increment{Type: factType, Subject: subject, Object: object, Delta: delta, Source: DefaultSource}
}

func TestStore_MergeIsAdditive(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			deltas := []int64{1, 1, 3, 2}
			var want int64
			for _, d := range deltas {
				want += d
				got, err := store.Merge(ctx, inc(FactGeneCancer, "KRAS", "PAAD", d))
				if err != nil {
					t.Fatalf("Merge() error = %v", err)
				}
				if got != want {
					t.Fatalf("Merge() = %d, want %d", got, want)
				}
			}

			f, err := store.Get(ctx, FactGeneCancer, "KRAS", "PAAD")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if f.EvidenceCount != 7 {
				t.Errorf("EvidenceCount = %d, want 7", f.EvidenceCount)
			}
		})
	}
}

func TestStore_ConcurrentMergesNeverLoseIncrements(t *testing.T) {
	const (
		workers   = 8
		perWorker = 20
	)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int64
			)
			errs := make(chan error, workers*perWorker)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						if _, err := store.Merge(ctx, inc(FactGeneMutation, "TP53", "R175H", 1)); err != nil {
							errs <- err
							continue
						}
						mu.Lock()
						succeeded++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			close(errs)

			// Badger writers give up after the default retry budget. A merge
			// that gives up must say so and must not have applied its delta.
			for err := range errs {
				if name != "badger" {
					t.Fatalf("concurrent Merge() error = %v", err)
				}
				if !errkind.Is(err, errkind.TransientIO) || !errors.Is(err, kv.ErrRetriesExhausted) {
					t.Fatalf("concurrent Merge() error = %v, want TransientIO retries exhausted", err)
				}
			}
			if succeeded == 0 {
				t.Fatal("no concurrent Merge() succeeded")
			}

			f, err := store.Get(ctx, FactGeneMutation, "TP53", "R175H")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if f.EvidenceCount != succeeded {
				t.Errorf("EvidenceCount = %d, want %d successful merges", f.EvidenceCount, succeeded)
			}
		})
	}
}

func TestStore_SourceIsFirstWriterWins(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := inc(FactGeneCancer, "EGFR", "LUAD", 1)
			first.Source = "ner_extraction"
			second := inc(FactGeneCancer, "EGFR", "LUAD", 1)
			second.Source = "curated_import"

			if _, err := store.Merge(ctx, first); err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
			if _, err := store.Merge(ctx, second); err != nil {
				t.Fatalf("Merge() error = %v", err)
			}

			f, err := store.Get(ctx, FactGeneCancer, "EGFR", "LUAD")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if f.Source != "ner_extraction" {
				t.Errorf("Source = %q, want ner_extraction", f.Source)
			}
			if f.EvidenceCount != 2 {
				t.Errorf("EvidenceCount = %d, want 2", f.EvidenceCount)
			}
		})
	}
}

func TestStore_Aggregate(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			merges := []Increment{
				inc(FactGeneCancer, "KRAS", "PAAD", 4),
				inc(FactGeneCancer, "KRAS", "LUAD", 2),
				inc(FactGeneMutation, "KRAS", "G12D", 3),
				inc(FactGenePathway, "KRAS", "MAPK", 9),
				inc(FactGeneCancer, "BRAF", "SKCM", 5),
			}
			for _, m := range merges {
				if _, err := store.Merge(ctx, m); err != nil {
					t.Fatalf("Merge(%+v) error = %v", m, err)
				}
			}

			got, err := store.Aggregate(ctx, "KRAS")
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			want := Aggregate{Subject: "KRAS", CancerEvidenceCount: 2, MutationEvidenceCount: 1, TotalEvidenceCount: 9}
			if got != want {
				t.Errorf("Aggregate() = %+v, want %+v", got, want)
			}

			empty, err := store.Aggregate(ctx, "NOPE")
			if err != nil {
				t.Fatalf("Aggregate(unknown) error = %v", err)
			}
			if empty != (Aggregate{Subject: "NOPE"}) {
				t.Errorf("Aggregate(unknown) = %+v, want zeros", empty)
			}
		})
	}
}

func TestStore_ListAndSubjects(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, m := range []Increment{
				inc(FactGeneMutation, "KRAS", "G12V", 1),
				inc(FactGeneCancer, "KRAS", "PAAD", 1),
				inc(FactGeneCancer, "KRAS", "COAD", 1),
				inc(FactGeneCancer, "BRAF", "SKCM", 1),
			} {
				if _, err := store.Merge(ctx, m); err != nil {
					t.Fatalf("Merge() error = %v", err)
				}
			}

			facts, err := store.ListBySubject(ctx, "KRAS")
			if err != nil {
				t.Fatalf("ListBySubject() error = %v", err)
			}
			wantOrder := []string{"COAD", "PAAD", "G12V"}
			if len(facts) != len(wantOrder) {
				t.Fatalf("ListBySubject() returned %d facts, want %d", len(facts), len(wantOrder))
			}
			for i, f := range facts {
				if f.Object != wantOrder[i] {
					t.Errorf("facts[%d].Object = %q, want %q", i, f.Object, wantOrder[i])
				}
			}

			subjects, err := store.Subjects(ctx)
			if err != nil {
				t.Fatalf("Subjects() error = %v", err)
			}
			if len(subjects) != 2 || subjects[0] != "BRAF" || subjects[1] != "KRAS" {
				t.Errorf("Subjects() = %v, want [BRAF KRAS]", subjects)
			}
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), FactGeneCancer, "KRAS", "PAAD")
			if !errors.Is(err, ErrFactNotFound) {
				t.Errorf("Get() error = %v, want ErrFactNotFound", err)
			}
		})
	}
}

func TestStore_RejectsInvalidIncrement(t *testing.T) {
	tests := []struct {
		name string
		inc  Increment
	}{
		{"zero delta", inc(FactGeneCancer, "KRAS", "PAAD", 0)},
		{"negative delta", inc(FactGeneCancer, "KRAS", "PAAD", -2)},
		{"blank subject", inc(FactGeneCancer, "  ", "PAAD", 1)},
		{"blank object", inc(FactGeneCancer, "KRAS", "", 1)},
		{"blank type", inc("", "KRAS", "PAAD", 1)},
	}

	for name, store := range backends(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				_, err := store.Merge(context.Background(), tt.inc)
				if !errors.Is(err, ErrInvalidIncrement) {
					t.Fatalf("Merge() error = %v, want ErrInvalidIncrement", err)
				}
				if !errkind.Is(err, errkind.DataError) {
					t.Errorf("error kind = %v, want DataError", errkind.Of(err))
				}
			})
		}

		subjects, err := store.Subjects(context.Background())
		if err != nil {
			t.Fatalf("Subjects() error = %v", err)
		}
		if len(subjects) != 0 {
			t.Errorf("%s: invalid merges wrote facts for %v", name, subjects)
		}
	}
}
