package factstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/genetarget/internal/stats"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestInstrumentedStore_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	counters := stats.NewUpsertStats()
	store := Instrument(NewInMemoryStore(), metrics, counters, newTestLogger())
	ctx := context.Background()

	if _, err := store.Merge(ctx, inc(FactGeneCancer, "KRAS", "PAAD", 1)); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if _, err := store.Merge(ctx, inc(FactGeneCancer, "KRAS", "PAAD", 1)); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if _, err := store.Merge(ctx, inc(FactGeneCancer, "KRAS", "PAAD", 0)); err == nil {
		t.Fatal("Merge() with zero delta should fail")
	}

	snap := counters.Snapshot()
	if snap.Inserted != 1 || snap.Updated != 1 || snap.Rejected != 1 {
		t.Errorf("snapshot = %+v, want inserted=1 updated=1 rejected=1", snap)
	}

	for outcome, want := range map[string]float64{OutcomeInserted: 1, OutcomeUpdated: 1, OutcomeError: 1} {
		got := counterValue(t, reg, MetricFactMergesTotal, map[string]string{"fact_type": "gene_cancer", "outcome": outcome})
		if got != want {
			t.Errorf("%s{outcome=%s} = %v, want %v", MetricFactMergesTotal, outcome, got, want)
		}
	}
}

func TestInstrument_BackendName(t *testing.T) {
	store := Instrument(NewSQLStore(nil, "sqlite", nil), nil, nil, nil)
	if store.String() != "sql(sqlite)" {
		t.Errorf("String() = %q, want sql(sqlite)", store.String())
	}
}
