package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/scores"
	"github.com/onnwee/genetarget/internal/tracing"
)

// DefaultConcurrency bounds parallel per-gene work in sweeps.
const DefaultConcurrency = 8

// Config configures a Scorer.
type Config struct {
	Calibration Calibration
	// Concurrency bounds parallel genes in sweeps. Zero means DefaultConcurrency.
	Concurrency int
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Summary reports a sweep.
type Summary struct {
	Genes    int
	Scored   int
	Nulls    int
	Failed   int
	Duration time.Duration
}

// Scorer recomputes composite scores and refreshes evidence components.
type Scorer struct {
	scores scores.Store
	facts  factstore.Store
	cfg    Config
}

// NewScorer validates the calibration and creates a Scorer. facts may be nil
// when only composites are recomputed.
func NewScorer(scoreStore scores.Store, facts factstore.Store, cfg Config) (*Scorer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Calibration == (Calibration{}) {
		cfg.Calibration = DefaultCalibration()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{scores: scoreStore, facts: facts, cfg: cfg}, nil
}

// Calibration returns the active calibration.
func (s *Scorer) Calibration() Calibration {
	return s.cfg.Calibration
}

// Recompute reads gene's components and writes its composite: the weighted
// value, or NULL when nothing is present. Other columns are left alone.
// A gene without a score row yields (nil, nil) and writes nothing.
func (s *Scorer) Recompute(ctx context.Context, gene string) (composite *float64, err error) {
	ctx, end := tracing.StartSpan(ctx, "scoring.recompute")
	defer func() { end(err) }()

	set, err := s.scores.Get(ctx, gene)
	if errors.Is(err, scores.ErrScoreNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if v, ok := Composite(*set, s.cfg.Calibration.Weights); ok {
		composite = scores.Float(v)
	}
	if err := s.scores.SetComposite(ctx, gene, composite); err != nil {
		return nil, err
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncRecompute(composite != nil)
	}
	return composite, nil
}

// RecomputeGenes recomputes the given genes with bounded parallelism.
// Per-gene failures are logged and counted; the sweep continues. The
// returned error is non-nil only when ctx ends the sweep early.
func (s *Scorer) RecomputeGenes(ctx context.Context, genes []string) (Summary, error) {
	start := time.Now()
	summary := Summary{Genes: len(genes)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, gene := range genes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			composite, err := s.Recompute(gctx, gene)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				if s.cfg.Metrics != nil {
					s.cfg.Metrics.IncRecomputeErrors()
				}
				s.cfg.Logger.Warn("composite recompute failed",
					slog.String("gene", gene),
					slog.String("error_kind", errkind.Of(err).String()),
					slog.String("error", err.Error()))
			case composite == nil:
				summary.Nulls++
			default:
				summary.Scored++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveSweep(summary.Duration.Seconds(), summary.Scored+summary.Nulls, float64(time.Now().Unix()))
	}
	return summary, ctx.Err()
}

// RecomputeAll recomputes every gene with at least one component.
func (s *Scorer) RecomputeAll(ctx context.Context) (Summary, error) {
	genes, err := s.scores.ListScoreable(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary, err := s.RecomputeGenes(ctx, genes)
	s.cfg.Logger.Info("composite recompute completed",
		slog.Int("genes", summary.Genes),
		slog.Int("scored", summary.Scored),
		slog.Int("null", summary.Nulls),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration))
	return summary, err
}

// RankedTarget is a ranked score row plus its cancer relevance.
type RankedTarget struct {
	scores.ComponentSet
	CancerRelevance float64
	Evidence        factstore.Aggregate
}

// Ranked returns the top limit genes by composite with their cancer
// relevance. limit <= 0 returns every scored gene.
func (s *Scorer) Ranked(ctx context.Context, limit int) ([]RankedTarget, error) {
	sets, err := s.scores.Ranked(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]RankedTarget, 0, len(sets))
	for _, set := range sets {
		rt := RankedTarget{ComponentSet: set, Evidence: factstore.Aggregate{Subject: set.Gene}}
		if s.facts != nil {
			agg, err := s.facts.Aggregate(ctx, set.Gene)
			if err != nil {
				return nil, err
			}
			rt.Evidence = agg
			rt.CancerRelevance = CancerRelevance(agg, s.cfg.Calibration.Caps)
		}
		out = append(out, rt)
	}
	return out, nil
}
