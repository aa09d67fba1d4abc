// Package mention defines the typed entity mentions returned by the external
// named-entity extractor and the persisted gene mention evidence trail.
package mention

import (
	"strings"
)

// EntityType is the label the extractor assigned to a span.
type EntityType string

// Known entity types. The extractor may return labels outside this set; they
// are normalized to EntityOther.
const (
	EntityGene              EntityType = "GENE"
	EntityGeneOrGeneProduct EntityType = "GENE_OR_GENE_PRODUCT"
	EntityGeneOrProduct     EntityType = "GENE_OR_PRODUCT"
	EntityMutation          EntityType = "MUTATION"
	EntityDisease           EntityType = "DISEASE"
	EntityChemical          EntityType = "CHEMICAL"
	EntityOther             EntityType = "OTHER"
)

// DefaultConfidence is used when the extractor omits a score.
const DefaultConfidence = 1.0

// ParseEntityType maps a raw extractor label onto EntityType.
func ParseEntityType(label string) EntityType {
	switch t := EntityType(strings.ToUpper(strings.TrimSpace(label))); t {
	case EntityGene, EntityGeneOrGeneProduct, EntityGeneOrProduct,
		EntityMutation, EntityDisease, EntityChemical:
		return t
	default:
		return EntityOther
	}
}

// IsGeneLike reports whether mentions of this type are recorded as gene evidence.
func (t EntityType) IsGeneLike() bool {
	switch t {
	case EntityGene, EntityGeneOrGeneProduct, EntityGeneOrProduct:
		return true
	}
	return false
}

// Mention is one entity span produced by the extractor for a paper.
// It lives only for one ingestion pass.
type Mention struct {
	Type         EntityType
	Text         string
	Start        int
	End          int
	Confidence   float64
	NormalizedID string // optional knowledge-base identifier
}

// GeneSymbol returns the normalized gene symbol for the mention text.
func (m Mention) GeneSymbol() string {
	return NormalizeSymbol(m.Text)
}

// NormalizeSymbol trims and upper-cases a gene symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GeneMention is the persisted record that a paper mentions a gene.
// Its presence marks the paper as processed.
type GeneMention struct {
	PaperID     string
	GeneSymbol  string
	MentionText string
	Confidence  float64
	Start       int
}

// GeneMentions classifies mentions and returns the gene-like ones as
// GeneMention rows for paperID. Mentions with a blank symbol are dropped.
func GeneMentions(paperID string, mentions []Mention) []GeneMention {
	var out []GeneMention
	for _, m := range mentions {
		if !m.Type.IsGeneLike() {
			continue
		}
		symbol := m.GeneSymbol()
		if symbol == "" {
			continue
		}
		out = append(out, GeneMention{
			PaperID:     paperID,
			GeneSymbol:  symbol,
			MentionText: m.Text,
			Confidence:  m.Confidence,
			Start:       m.Start,
		})
	}
	return out
}

// DistinctGenes returns the gene symbols in first-seen order without repeats.
func DistinctGenes(gms []GeneMention) []string {
	seen := make(map[string]struct{}, len(gms))
	var genes []string
	for _, gm := range gms {
		if _, ok := seen[gm.GeneSymbol]; ok {
			continue
		}
		seen[gm.GeneSymbol] = struct{}{}
		genes = append(genes, gm.GeneSymbol)
	}
	return genes
}
