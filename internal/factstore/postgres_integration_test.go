//go:build integration

package factstore

import (
	"context"
	"sync"
	"testing"

	"github.com/onnwee/genetarget/internal/db"
	"github.com/onnwee/genetarget/internal/db/dbtest"
)

func TestSQLStore_Postgres(t *testing.T) {
	store := NewSQLStore(dbtest.OpenPostgres(t), db.DriverPostgres, newTestLogger())
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Merge(ctx, inc(FactGeneCancer, "KRAS", "PAAD", 1)); err != nil {
				t.Errorf("Merge() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := store.Merge(ctx, inc(FactGeneMutation, "KRAS", "G12D", 2)); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	agg, err := store.Aggregate(ctx, "KRAS")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	want := Aggregate{Subject: "KRAS", CancerEvidenceCount: 1, MutationEvidenceCount: 1, TotalEvidenceCount: workers + 2}
	if agg != want {
		t.Errorf("Aggregate() = %+v, want %+v", agg, want)
	}
}
