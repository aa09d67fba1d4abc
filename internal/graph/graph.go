// Package graph projects the fact ledger and target scores into a Neo4j
// property graph. The projection is a derived view: every sync overwrites
// counts and scores with the store's current values.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/scores"
	"github.com/onnwee/genetarget/internal/tracing"
)

// DefaultBatchSize bounds the rows sent per UNWIND statement.
const DefaultBatchSize = 500

// Writer runs one parameterized write statement over a batch of rows.
type Writer interface {
	WriteBatch(ctx context.Context, cypher string, rows []map[string]any) error
}

const (
	cancerCypher = `
		UNWIND $rows AS row
		MERGE (g:Gene {symbol: row.gene})
		MERGE (c:CancerType {code: row.object})
		MERGE (g)-[r:ASSOCIATED_WITH]->(c)
		SET r.evidence_count = row.evidence_count, r.source = row.source, r.synced_at = row.synced_at`

	mutationCypher = `
		UNWIND $rows AS row
		MERGE (g:Gene {symbol: row.gene})
		MERGE (m:Mutation {gene: row.gene, notation: row.object})
		MERGE (g)-[r:HAS_MUTATION]->(m)
		SET r.evidence_count = row.evidence_count, r.source = row.source, r.synced_at = row.synced_at`

	pathwayCypher = `
		UNWIND $rows AS row
		MERGE (g:Gene {symbol: row.gene})
		MERGE (p:Pathway {name: row.object})
		MERGE (g)-[r:IN_PATHWAY]->(p)
		SET r.evidence_count = row.evidence_count, r.source = row.source, r.synced_at = row.synced_at`

	scoreCypher = `
		UNWIND $rows AS row
		MERGE (g:Gene {symbol: row.gene})
		SET g.literature_score = row.literature,
		    g.mutation_frequency_score = row.mutation_frequency,
		    g.crispr_dependency_score = row.crispr_dependency,
		    g.composite_score = row.composite,
		    g.synced_at = row.synced_at`
)

// CypherFor returns the statement that projects facts of type t.
func CypherFor(t factstore.FactType) (string, bool) {
	switch t {
	case factstore.FactGeneCancer:
		return cancerCypher, true
	case factstore.FactGeneMutation:
		return mutationCypher, true
	case factstore.FactGenePathway:
		return pathwayCypher, true
	}
	return "", false
}

// Config configures a Projector.
type Config struct {
	BatchSize int
	Logger    *slog.Logger
}

// Summary reports one sync.
type Summary struct {
	Genes    int
	Facts    int
	Scores   int
	Batches  int
	Unmapped int
	Duration time.Duration
}

// Projector copies facts and scores into the graph.
type Projector struct {
	facts  factstore.Store
	scores scores.Store
	writer Writer
	config Config
	now    func() time.Time
}

// NewProjector creates a Projector. scoreStore may be nil to project facts only.
func NewProjector(facts factstore.Store, scoreStore scores.Store, writer Writer, config Config) *Projector {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Projector{facts: facts, scores: scoreStore, writer: writer, config: config, now: time.Now}
}

// Sync projects every subject in the fact ledger, then every scored gene.
// Writes are idempotent MERGE statements, so a failed sync can be rerun.
func (p *Projector) Sync(ctx context.Context) (summary Summary, err error) {
	ctx, end := tracing.StartSpan(ctx, "graph.sync")
	defer func() { end(err) }()

	start := p.now()
	syncedAt := start.UTC().Format(time.RFC3339)

	subjects, err := p.facts.Subjects(ctx)
	if err != nil {
		return summary, fmt.Errorf("list fact subjects: %w", err)
	}
	summary.Genes = len(subjects)

	byType := make(map[factstore.FactType][]map[string]any)
	for _, gene := range subjects {
		facts, err := p.facts.ListBySubject(ctx, gene)
		if err != nil {
			return summary, fmt.Errorf("list facts for %s: %w", gene, err)
		}
		for _, f := range facts {
			if _, ok := CypherFor(f.Type); !ok {
				summary.Unmapped++
				continue
			}
			byType[f.Type] = append(byType[f.Type], map[string]any{
				"gene":           f.Subject,
				"object":         f.Object,
				"evidence_count": f.EvidenceCount,
				"source":         f.Source,
				"synced_at":      syncedAt,
			})
			summary.Facts++
		}
	}

	for _, t := range []factstore.FactType{factstore.FactGeneCancer, factstore.FactGeneMutation, factstore.FactGenePathway} {
		cypher, _ := CypherFor(t)
		n, err := p.write(ctx, cypher, byType[t])
		summary.Batches += n
		if err != nil {
			return summary, err
		}
	}

	if p.scores != nil {
		rows, err := p.scoreRows(ctx, syncedAt)
		if err != nil {
			return summary, err
		}
		summary.Scores = len(rows)
		n, err := p.write(ctx, scoreCypher, rows)
		summary.Batches += n
		if err != nil {
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	p.config.Logger.Info("graph sync finished",
		slog.Int("genes", summary.Genes),
		slog.Int("facts", summary.Facts),
		slog.Int("scores", summary.Scores),
		slog.Int("batches", summary.Batches),
		slog.Int("unmapped", summary.Unmapped),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (p *Projector) scoreRows(ctx context.Context, syncedAt string) ([]map[string]any, error) {
	genes, err := p.scores.ListScoreable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scored genes: %w", err)
	}
	rows := make([]map[string]any, 0, len(genes))
	for _, gene := range genes {
		set, err := p.scores.Get(ctx, gene)
		if err != nil {
			return nil, fmt.Errorf("get scores for %s: %w", gene, err)
		}
		rows = append(rows, map[string]any{
			"gene":               set.Gene,
			"literature":         optional(set.Literature),
			"mutation_frequency": optional(set.MutationFrequency),
			"crispr_dependency":  optional(set.CRISPRDependency),
			"composite":          optional(set.Composite),
			"synced_at":          syncedAt,
		})
	}
	return rows, nil
}

// optional turns a missing component into a Cypher null.
func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (p *Projector) write(ctx context.Context, cypher string, rows []map[string]any) (int, error) {
	batches := 0
	for start := 0; start < len(rows); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(rows))
		if err := p.writer.WriteBatch(ctx, cypher, rows[start:end]); err != nil {
			return batches, errkind.Wrap(errkind.TransientIO, "graph write", err)
		}
		batches++
	}
	return batches, nil
}
