// Package scores stores per-gene score components and the composite score
// derived from them. Each producer owns one component column and writes it
// with UpsertComponent, which never touches the other columns.
package scores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/genetarget/internal/errkind"
)

// ErrScoreNotFound is returned when a gene has no score row.
var ErrScoreNotFound = errors.New("score set not found")

// Component identifies one independently produced score.
type Component int

// Components. The set is closed: each maps to a fixed column.
const (
	ComponentLiterature Component = iota + 1
	ComponentMutationFrequency
	ComponentCRISPRDependency
)

// AllComponents lists every component in column order.
var AllComponents = []Component{ComponentLiterature, ComponentMutationFrequency, ComponentCRISPRDependency}

// Column returns the storage column for c.
func (c Component) Column() string {
	switch c {
	case ComponentLiterature:
		return "literature_score"
	case ComponentMutationFrequency:
		return "mutation_frequency_score"
	case ComponentCRISPRDependency:
		return "crispr_dependency_score"
	default:
		return ""
	}
}

func (c Component) String() string {
	switch c {
	case ComponentLiterature:
		return "literature"
	case ComponentMutationFrequency:
		return "mutation_frequency"
	case ComponentCRISPRDependency:
		return "crispr_dependency"
	default:
		return fmt.Sprintf("component(%d)", int(c))
	}
}

// Valid reports whether c is a known component.
func (c Component) Valid() bool {
	return c.Column() != ""
}

// ParseComponent accepts a component name or its column name.
func ParseComponent(s string) (Component, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllComponents {
		if s == c.String() || s == c.Column() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown score component %q", s)
}

// ComponentSet is a gene's score row. Nil means absent.
type ComponentSet struct {
	Gene              string
	Literature        *float64
	MutationFrequency *float64
	CRISPRDependency  *float64
	// Composite is written only by the composite scorer.
	Composite *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Value returns the value of component c.
func (s ComponentSet) Value(c Component) *float64 {
	switch c {
	case ComponentLiterature:
		return s.Literature
	case ComponentMutationFrequency:
		return s.MutationFrequency
	case ComponentCRISPRDependency:
		return s.CRISPRDependency
	default:
		return nil
	}
}

// set assigns component c.
func (s *ComponentSet) set(c Component, v *float64) {
	switch c {
	case ComponentLiterature:
		s.Literature = v
	case ComponentMutationFrequency:
		s.MutationFrequency = v
	case ComponentCRISPRDependency:
		s.CRISPRDependency = v
	}
}

// HasComponent reports whether at least one component is present.
func (s ComponentSet) HasComponent() bool {
	return s.Literature != nil || s.MutationFrequency != nil || s.CRISPRDependency != nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Store persists component sets.
type Store interface {
	// UpsertComponent creates the gene's row if needed and sets exactly one
	// component column.
	UpsertComponent(ctx context.Context, gene string, c Component, value float64) error

	// Get returns the gene's row or ErrScoreNotFound.
	Get(ctx context.Context, gene string) (*ComponentSet, error)

	// SetComposite writes the composite column only. Nil stores NULL.
	// Returns ErrScoreNotFound when the gene has no row.
	SetComposite(ctx context.Context, gene string, composite *float64) error

	// ListScoreable returns genes with at least one component, sorted.
	ListScoreable(ctx context.Context) ([]string, error)

	// Ranked returns rows with a composite ordered by composite descending,
	// ties by gene. limit <= 0 returns every row.
	Ranked(ctx context.Context, limit int) ([]ComponentSet, error)
}

func validateUpsert(gene string, c Component) error {
	if strings.TrimSpace(gene) == "" {
		return errkind.New(errkind.DataError, "upsert component", "gene is required")
	}
	if !c.Valid() {
		return errkind.New(errkind.DataError, "upsert component", fmt.Sprintf("unknown score component %d", int(c)))
	}
	return nil
}
