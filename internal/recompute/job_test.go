package recompute

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/jobs"
	"github.com/onnwee/genetarget/internal/scores"
	"github.com/onnwee/genetarget/internal/scoring"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	facts  *factstore.InMemoryStore
	scores *scores.InMemoryStore
	dirty  *InMemoryDirtyTracker
	scorer *scoring.Scorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		facts:  factstore.NewInMemoryStore(),
		scores: scores.NewInMemoryStore(),
		dirty:  NewInMemoryDirtyTracker(),
	}
	s, err := scoring.NewScorer(f.scores, f.facts, scoring.Config{Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	f.scorer = s
	return f
}

func (f *fixture) merge(t *testing.T, factType factstore.FactType, gene, object string, delta int64) {
	t.Helper()
	_, err := f.facts.Merge(context.Background(), factstore.Increment{
		Type: factType, Subject: gene, Object: object, Delta: delta, Source: factstore.DefaultSource,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestJob_RecomputeNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.merge(t, factstore.FactGeneCancer, "KRAS", "PAAD", 5)
	f.merge(t, factstore.FactGeneMutation, "KRAS", "G12D", 5)
	if err := f.scores.UpsertComponent(ctx, "KRAS", scores.ComponentCRISPRDependency, -0.5); err != nil {
		t.Fatal(err)
	}
	if err := f.dirty.MarkDirty(ctx, "KRAS"); err != nil {
		t.Fatal(err)
	}

	metrics := jobs.NewMetrics()
	job := NewJob(JobConfig{Logger: newTestLogger(), JobMetrics: metrics}, f.dirty, f.scorer)

	result, err := job.RecomputeNow(ctx)
	if err != nil {
		t.Fatalf("RecomputeNow() error = %v", err)
	}
	if result.Dirty != 1 || result.Refresh.Written != 1 || result.Scores.Scored != 1 || result.Cleared != 1 {
		t.Errorf("result = %+v", result)
	}
	if f.dirty.IsDirty("KRAS") {
		t.Error("KRAS should be clean after a successful cycle")
	}

	set, err := f.scores.Get(ctx, "KRAS")
	if err != nil {
		t.Fatal(err)
	}
	// literature 10/10 = 1, mutation 1/5 = 0.2, crispr 0.5
	want := (1*0.3 + 0.5*0.4 + 0.2*0.3) / 1.0
	if set.Composite == nil || math.Abs(*set.Composite-want) > 1e-9 {
		t.Errorf("composite = %v, want %v", set.Composite, want)
	}

	// Nothing dirty: the cycle is a no-op.
	result, err = job.RecomputeNow(ctx)
	if err != nil || result.Dirty != 0 {
		t.Errorf("idle cycle = %+v, %v", result, err)
	}
}

func TestJob_SkipEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.merge(t, factstore.FactGeneCancer, "EGFR", "LUAD", 3)
	_ = f.scores.UpsertComponent(ctx, "EGFR", scores.ComponentCRISPRDependency, -0.9)
	_ = f.dirty.MarkDirty(ctx, "EGFR")

	job := NewJob(JobConfig{Logger: newTestLogger(), SkipEvidence: true}, f.dirty, f.scorer)
	if _, err := job.RecomputeNow(ctx); err != nil {
		t.Fatal(err)
	}
	set, _ := f.scores.Get(ctx, "EGFR")
	if set.Literature != nil {
		t.Errorf("literature = %v, want untouched", *set.Literature)
	}
	if set.Composite == nil || math.Abs(*set.Composite-0.9) > 1e-9 {
		t.Errorf("composite = %v, want 0.9", set.Composite)
	}
}

func TestJob_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.scores.UpsertComponent(ctx, "MYC", scores.ComponentLiterature, 0.25)
	_ = f.dirty.MarkDirty(ctx, "MYC")

	job := NewJob(JobConfig{Interval: 10 * time.Millisecond, Logger: newTestLogger()}, f.dirty, f.scorer)
	job.Start(ctx)
	job.Start(ctx)
	if !job.IsRunning() {
		t.Fatal("job should be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.dirty.IsDirty("MYC") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	job.Stop()
	job.Stop()
	if job.IsRunning() {
		t.Error("job should be stopped")
	}
	if f.dirty.IsDirty("MYC") {
		t.Fatal("ticker never drained the dirty set")
	}
	set, _ := f.scores.Get(ctx, "MYC")
	if set.Composite == nil || *set.Composite != 0.25 {
		t.Errorf("composite = %v, want 0.25", set.Composite)
	}
}

func TestJob_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	job := NewJob(JobConfig{Interval: time.Hour, Logger: newTestLogger()}, f.dirty, f.scorer)
	job.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		job.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}
