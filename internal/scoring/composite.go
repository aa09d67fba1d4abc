// Package scoring turns score components into a composite priority score
// and derives the evidence-based components from fact aggregates.
package scoring

import (
	"math"

	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/scores"
)

// Composite computes the weighted mean of the components present in set,
// renormalized over the weights of those components. CRISPR dependency is
// taken as an absolute value since screens report it as a negative number.
// It returns false when no component is present or the present weights sum
// to zero.
func Composite(set scores.ComponentSet, w Weights) (float64, bool) {
	var num, den float64
	if set.Literature != nil {
		num += *set.Literature * w.Literature
		den += w.Literature
	}
	if set.CRISPRDependency != nil {
		num += math.Abs(*set.CRISPRDependency) * w.CRISPRDependency
		den += w.CRISPRDependency
	}
	if set.MutationFrequency != nil {
		num += *set.MutationFrequency * w.MutationFrequency
		den += w.MutationFrequency
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// saturate returns min(v/limit, 1).
func saturate(v, limit float64) float64 {
	return math.Min(v/limit, 1)
}

// LiteratureScore scales total evidence into [0, 1].
func LiteratureScore(agg factstore.Aggregate, caps Caps) float64 {
	return saturate(float64(agg.TotalEvidenceCount), caps.LiteratureTotal)
}

// MutationFrequencyScore scales the number of distinct mutations into [0, 1].
func MutationFrequencyScore(agg factstore.Aggregate, caps Caps) float64 {
	return saturate(float64(agg.MutationEvidenceCount), caps.MutationCount)
}

// CancerRelevance scales the number of distinct cancer types into [0, 1].
func CancerRelevance(agg factstore.Aggregate, caps Caps) float64 {
	return saturate(float64(agg.CancerEvidenceCount), caps.CancerCount)
}
