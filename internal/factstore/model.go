// Package factstore is the evidence ledger of relational facts about genes.
// A fact is identified by (fact type, subject, object) and carries an evidence
// count that only ever grows: every merge adds its delta atomically, so
// concurrent workers merging the same fact never lose an increment.
package factstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/genetarget/internal/errkind"
)

// FactType is the relation kind. The set is open; these are the ones the
// deriver produces or scoring reads.
type FactType string

// Known fact types.
const (
	FactGeneCancer   FactType = "gene_cancer"
	FactGeneMutation FactType = "gene_mutation"
	FactGenePathway  FactType = "gene_pathway"
)

// DefaultSource tags facts written by the literature extraction pipeline.
const DefaultSource = "ner_extraction"

var (
	// ErrFactNotFound is returned by Get when the identity triple is unknown.
	ErrFactNotFound = errors.New("fact not found")
	// ErrInvalidIncrement is returned for blank identity fields or delta < 1.
	ErrInvalidIncrement = errors.New("invalid fact increment")
)

// Fact is one row of the ledger.
type Fact struct {
	Type          FactType
	Subject       string
	Object        string
	EvidenceCount int64
	// Source is the provenance tag of the first writer. Later merges never change it.
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Increment is a request to add Delta evidence units to a fact.
type Increment struct {
	Type    FactType
	Subject string
	Object  string
	Delta   int64
	Source  string
}

// Validate checks the increment before it reaches a store.
func (inc Increment) Validate() error {
	switch {
	case strings.TrimSpace(string(inc.Type)) == "":
		return errkind.Wrap(errkind.DataError, "validate increment", fmt.Errorf("%w: empty fact type", ErrInvalidIncrement))
	case strings.TrimSpace(inc.Subject) == "":
		return errkind.Wrap(errkind.DataError, "validate increment", fmt.Errorf("%w: empty subject", ErrInvalidIncrement))
	case strings.TrimSpace(inc.Object) == "":
		return errkind.Wrap(errkind.DataError, "validate increment", fmt.Errorf("%w: empty object", ErrInvalidIncrement))
	case inc.Delta < 1:
		return errkind.Wrap(errkind.DataError, "validate increment", fmt.Errorf("%w: delta %d", ErrInvalidIncrement, inc.Delta))
	}
	return nil
}

// Aggregate summarizes the cancer and mutation evidence for one subject.
// CancerEvidenceCount and MutationEvidenceCount count distinct facts;
// TotalEvidenceCount sums evidence units across both fact types.
type Aggregate struct {
	Subject               string
	CancerEvidenceCount   int64
	MutationEvidenceCount int64
	TotalEvidenceCount    int64
}

// Store is the fact ledger.
type Store interface {
	// Merge adds inc.Delta to the fact's evidence count, creating the fact on
	// first observation, and returns the new count. Atomic per identity triple.
	Merge(ctx context.Context, inc Increment) (int64, error)

	// Aggregate returns evidence totals for subject. Unknown subjects yield zeros.
	Aggregate(ctx context.Context, subject string) (Aggregate, error)

	// Get returns one fact or ErrFactNotFound.
	Get(ctx context.Context, factType FactType, subject, object string) (*Fact, error)

	// ListBySubject returns every fact about subject ordered by type then object.
	ListBySubject(ctx context.Context, subject string) ([]Fact, error)

	// Subjects returns every subject with at least one fact, sorted.
	Subjects(ctx context.Context) ([]string, error)
}

// aggregateFacts folds a subject's facts into an Aggregate.
func aggregateFacts(subject string, facts []Fact) Aggregate {
	agg := Aggregate{Subject: subject}
	for _, f := range facts {
		switch f.Type {
		case FactGeneCancer:
			agg.CancerEvidenceCount++
			agg.TotalEvidenceCount += f.EvidenceCount
		case FactGeneMutation:
			agg.MutationEvidenceCount++
			agg.TotalEvidenceCount += f.EvidenceCount
		}
	}
	return agg
}
