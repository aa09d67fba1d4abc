package scoring

import (
	"math"
	"testing"

	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/scores"
)

const eps = 1e-9

func TestComposite(t *testing.T) {
	f := scores.Float
	w := DefaultWeights()

	tests := []struct {
		name   string
		set    scores.ComponentSet
		want   float64
		wantOK bool
	}{
		{
			name:   "renormalizes over literature and crispr",
			set:    scores.ComponentSet{Literature: f(0.5), CRISPRDependency: f(-0.8)},
			want:   (0.5*0.3 + 0.8*0.4) / (0.3 + 0.4),
			wantOK: true,
		},
		{
			name:   "all present",
			set:    scores.ComponentSet{Literature: f(1), CRISPRDependency: f(-1), MutationFrequency: f(1)},
			want:   1,
			wantOK: true,
		},
		{
			name:   "single component is its own value",
			set:    scores.ComponentSet{MutationFrequency: f(0.4)},
			want:   0.4,
			wantOK: true,
		},
		{
			name:   "crispr uses magnitude",
			set:    scores.ComponentSet{CRISPRDependency: f(-1.7)},
			want:   1.7,
			wantOK: true,
		},
		{
			name:   "present zero is still present",
			set:    scores.ComponentSet{Literature: f(0), CRISPRDependency: f(1)},
			want:   0.4 / 0.7,
			wantOK: true,
		},
		{
			name:   "nothing present",
			set:    scores.ComponentSet{Composite: f(0.9)},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Composite(tt.set, w)
			if ok != tt.wantOK {
				t.Fatalf("Composite() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > eps {
				t.Errorf("Composite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComposite_ZeroWeightOfPresentComponents(t *testing.T) {
	w := Weights{Literature: 0, CRISPRDependency: 0.5, MutationFrequency: 0.5}
	if _, ok := Composite(scores.ComponentSet{Literature: scores.Float(0.9)}, w); ok {
		t.Error("Composite() should be absent when present weights sum to zero")
	}
}

func TestComposite_Renormalization(t *testing.T) {
	// Adding a component at the current composite value leaves it unchanged.
	w := DefaultWeights()
	base := scores.ComponentSet{Literature: scores.Float(0.5), CRISPRDependency: scores.Float(-0.8)}
	c1, _ := Composite(base, w)

	base.MutationFrequency = scores.Float(c1)
	c2, _ := Composite(base, w)
	if math.Abs(c1-c2) > eps {
		t.Errorf("composite moved from %v to %v when adding a component at the same value", c1, c2)
	}
}

func TestEvidenceScores(t *testing.T) {
	caps := DefaultCaps()

	tests := []struct {
		name         string
		agg          factstore.Aggregate
		wantLit      float64
		wantMut      float64
		wantRelevant float64
	}{
		{"empty", factstore.Aggregate{}, 0, 0, 0},
		{"partial", factstore.Aggregate{CancerEvidenceCount: 1, MutationEvidenceCount: 2, TotalEvidenceCount: 4}, 0.4, 0.4, 1.0 / 3},
		{"saturated", factstore.Aggregate{CancerEvidenceCount: 9, MutationEvidenceCount: 12, TotalEvidenceCount: 25}, 1, 1, 1},
		{"exactly at cap", factstore.Aggregate{CancerEvidenceCount: 3, MutationEvidenceCount: 5, TotalEvidenceCount: 10}, 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LiteratureScore(tt.agg, caps); math.Abs(got-tt.wantLit) > eps {
				t.Errorf("LiteratureScore() = %v, want %v", got, tt.wantLit)
			}
			if got := MutationFrequencyScore(tt.agg, caps); math.Abs(got-tt.wantMut) > eps {
				t.Errorf("MutationFrequencyScore() = %v, want %v", got, tt.wantMut)
			}
			if got := CancerRelevance(tt.agg, caps); math.Abs(got-tt.wantRelevant) > eps {
				t.Errorf("CancerRelevance() = %v, want %v", got, tt.wantRelevant)
			}
		})
	}
}
