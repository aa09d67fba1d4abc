package recompute

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryDirtyTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewInMemoryDirtyTracker()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	if err := tr.MarkDirty(ctx, "TP53", "KRAS", "TP53"); err != nil {
		t.Fatal(err)
	}
	genes, cutoff, err := tr.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(genes) != 2 || genes[0] != "KRAS" || genes[1] != "TP53" {
		t.Fatalf("Pending() = %v, want [KRAS TP53]", genes)
	}

	// KRAS is marked again while its recompute is in flight.
	clock = clock.Add(time.Second)
	_ = tr.MarkDirty(ctx, "KRAS")

	if err := tr.Clear(ctx, cutoff, genes...); err != nil {
		t.Fatal(err)
	}
	if !tr.IsDirty("KRAS") {
		t.Error("KRAS re-marked after the cutoff must stay dirty")
	}
	if tr.IsDirty("TP53") {
		t.Error("TP53 should be cleared")
	}
	if n, _ := tr.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestInMemoryDirtyTracker_FrozenClockKeepsRemark(t *testing.T) {
	ctx := context.Background()
	tr := NewInMemoryDirtyTracker()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	tests := []struct {
		name      string
		remark    []string
		wantDirty []string
	}{
		{"remark in the same tick", []string{"KRAS"}, []string{"KRAS"}},
		{"no remark", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tr.MarkDirty(ctx, "KRAS", "TP53"); err != nil {
				t.Fatal(err)
			}
			genes, cutoff, err := tr.Pending(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if err := tr.MarkDirty(ctx, tt.remark...); err != nil {
				t.Fatal(err)
			}
			if err := tr.Clear(ctx, cutoff, genes...); err != nil {
				t.Fatal(err)
			}
			for _, g := range tt.wantDirty {
				if !tr.IsDirty(g) {
					t.Errorf("%s re-marked after Pending must stay dirty", g)
				}
			}
			if n, _ := tr.Count(ctx); n != len(tt.wantDirty) {
				t.Errorf("Count() = %d, want %d", n, len(tt.wantDirty))
			}
			_ = tr.Clear(ctx, time.Now().Add(time.Hour), "KRAS", "TP53")
		})
	}
}
