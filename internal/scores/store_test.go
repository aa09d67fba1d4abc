package scores

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

func backends(t *testing.T) map[string]Store {
	t.Helper()

	bdb, err := kv.Open(kv.Config{InMemory: true, MaxRetries: 64, Logger: newTestLogger()})
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

func assertValue(t *testing.T, name string, got *float64, want *float64) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Errorf("%s = %v, want %v", name, got, want)
	case *got != *want:
		t.Errorf("%s = %v, want %v", name, *got, *want)
	}
}

func TestStore_UpsertComponentTouchesOneColumn(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.UpsertComponent(ctx, "KRAS", ComponentCRISPRDependency, -0.8); err != nil {
				t.Fatalf("UpsertComponent() error = %v", err)
			}
			if err := store.UpsertComponent(ctx, "KRAS", ComponentLiterature, 0.5); err != nil {
				t.Fatalf("UpsertComponent() error = %v", err)
			}
			if err := store.SetComposite(ctx, "KRAS", Float(0.65)); err != nil {
				t.Fatalf("SetComposite() error = %v", err)
			}
			// Revising one component leaves the others and the composite alone.
			if err := store.UpsertComponent(ctx, "KRAS", ComponentLiterature, 0.7); err != nil {
				t.Fatalf("UpsertComponent() error = %v", err)
			}

			set, err := store.Get(ctx, "KRAS")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			assertValue(t, "literature", set.Literature, Float(0.7))
			assertValue(t, "crispr", set.CRISPRDependency, Float(-0.8))
			assertValue(t, "mutation", set.MutationFrequency, nil)
			assertValue(t, "composite", set.Composite, Float(0.65))
			if set.CreatedAt.IsZero() || set.UpdatedAt.Before(set.CreatedAt) {
				t.Errorf("timestamps not maintained: created=%v updated=%v", set.CreatedAt, set.UpdatedAt)
			}
		})
	}
}

func TestStore_ConcurrentColumnWritesCommute(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			genes := []string{"KRAS", "TP53", "EGFR", "BRAF"}

			var wg sync.WaitGroup
			for _, gene := range genes {
				for i, c := range AllComponents {
					wg.Add(1)
					go func(gene string, c Component, v float64) {
						defer wg.Done()
						if err := store.UpsertComponent(ctx, gene, c, v); err != nil {
							t.Errorf("UpsertComponent(%s, %s) error = %v", gene, c, err)
						}
					}(gene, c, float64(i+1)/10)
				}
			}
			wg.Wait()

			for _, gene := range genes {
				set, err := store.Get(ctx, gene)
				if err != nil {
					t.Fatalf("Get(%s) error = %v", gene, err)
				}
				assertValue(t, gene+" literature", set.Literature, Float(0.1))
				assertValue(t, gene+" mutation", set.MutationFrequency, Float(0.2))
				assertValue(t, gene+" crispr", set.CRISPRDependency, Float(0.3))
			}
		})
	}
}

func TestStore_SetComposite(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.SetComposite(ctx, "MISSING", Float(1)); !errors.Is(err, ErrScoreNotFound) {
				t.Errorf("SetComposite(missing) error = %v, want ErrScoreNotFound", err)
			}

			if err := store.UpsertComponent(ctx, "MYC", ComponentMutationFrequency, 0.4); err != nil {
				t.Fatalf("UpsertComponent() error = %v", err)
			}
			if err := store.SetComposite(ctx, "MYC", Float(0.4)); err != nil {
				t.Fatalf("SetComposite() error = %v", err)
			}
			if err := store.SetComposite(ctx, "MYC", nil); err != nil {
				t.Fatalf("SetComposite(nil) error = %v", err)
			}
			set, err := store.Get(ctx, "MYC")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			assertValue(t, "composite", set.Composite, nil)
		})
	}
}

func TestStore_ListScoreableAndRanked(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			composites := map[string]*float64{
				"KRAS": Float(0.9),
				"TP53": Float(0.5),
				"EGFR": Float(0.9),
				"MYC":  nil,
			}
			for gene, composite := range composites {
				if err := store.UpsertComponent(ctx, gene, ComponentLiterature, 0.1); err != nil {
					t.Fatalf("UpsertComponent() error = %v", err)
				}
				if err := store.SetComposite(ctx, gene, composite); err != nil {
					t.Fatalf("SetComposite() error = %v", err)
				}
			}

			genes, err := store.ListScoreable(ctx)
			if err != nil {
				t.Fatalf("ListScoreable() error = %v", err)
			}
			wantGenes := []string{"EGFR", "KRAS", "MYC", "TP53"}
			if len(genes) != len(wantGenes) {
				t.Fatalf("ListScoreable() = %v, want %v", genes, wantGenes)
			}
			for i := range wantGenes {
				if genes[i] != wantGenes[i] {
					t.Errorf("ListScoreable()[%d] = %s, want %s", i, genes[i], wantGenes[i])
				}
			}

			ranked, err := store.Ranked(ctx, 0)
			if err != nil {
				t.Fatalf("Ranked() error = %v", err)
			}
			wantOrder := []string{"EGFR", "KRAS", "TP53"}
			if len(ranked) != len(wantOrder) {
				t.Fatalf("Ranked() returned %d rows, want %d", len(ranked), len(wantOrder))
			}
			for i, set := range ranked {
				if set.Gene != wantOrder[i] {
					t.Errorf("Ranked()[%d] = %s, want %s", i, set.Gene, wantOrder[i])
				}
			}

			top, err := store.Ranked(ctx, 2)
			if err != nil {
				t.Fatalf("Ranked(2) error = %v", err)
			}
			if len(top) != 2 {
				t.Errorf("Ranked(2) returned %d rows", len(top))
			}
		})
	}
}

func TestStore_UpsertComponentValidation(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.UpsertComponent(ctx, " ", ComponentLiterature, 1); !errkind.Is(err, errkind.DataError) {
				t.Errorf("blank gene error = %v, want DataError", err)
			}
			if err := store.UpsertComponent(ctx, "KRAS", Component(99), 1); !errkind.Is(err, errkind.DataError) {
				t.Errorf("unknown component error = %v, want DataError", err)
			}
			if _, err := store.Get(ctx, "KRAS"); !errors.Is(err, ErrScoreNotFound) {
				t.Errorf("Get() error = %v, want ErrScoreNotFound", err)
			}
		})
	}
}

func TestParseComponent(t *testing.T) {
	tests := []struct {
		in      string
		want    Component
		wantErr bool
	}{
		{"literature", ComponentLiterature, false},
		{"crispr_dependency_score", ComponentCRISPRDependency, false},
		{" Mutation_Frequency ", ComponentMutationFrequency, false},
		{"composite", 0, true},
		{"literature_score; DROP TABLE", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseComponent(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseComponent() = %v, want %v", got, tt.want)
			}
		})
	}
}
