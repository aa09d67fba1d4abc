package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/scores"
)

// ErrNoFactStore is returned by evidence refreshes on a Scorer built without one.
var ErrNoFactStore = errors.New("scorer has no fact store")

// RefreshSummary reports an evidence refresh sweep.
type RefreshSummary struct {
	Genes    int
	Written  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// RefreshEvidence derives the literature and mutation-frequency components
// of gene from its fact aggregate and writes each through its own
// UpsertComponent call. Genes without cancer or mutation facts are skipped
// and report false.
func (s *Scorer) RefreshEvidence(ctx context.Context, gene string) (bool, error) {
	if s.facts == nil {
		return false, ErrNoFactStore
	}

	agg, err := s.facts.Aggregate(ctx, gene)
	if err != nil {
		return false, err
	}
	if agg.CancerEvidenceCount == 0 && agg.MutationEvidenceCount == 0 {
		return false, nil
	}

	caps := s.cfg.Calibration.Caps
	updates := []struct {
		component scores.Component
		value     float64
	}{
		{scores.ComponentLiterature, LiteratureScore(agg, caps)},
		{scores.ComponentMutationFrequency, MutationFrequencyScore(agg, caps)},
	}
	for _, u := range updates {
		if err := s.scores.UpsertComponent(ctx, gene, u.component, u.value); err != nil {
			return false, err
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncComponentUpdate(u.component.String())
		}
	}
	return true, nil
}

// RefreshEvidenceGenes refreshes the evidence components of genes with
// bounded parallelism and returns how many were written and how many failed.
func (s *Scorer) RefreshEvidenceGenes(ctx context.Context, genes []string) (RefreshSummary, error) {
	if s.facts == nil {
		return RefreshSummary{}, ErrNoFactStore
	}

	start := time.Now()
	summary := RefreshSummary{Genes: len(genes)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, gene := range genes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			wrote, err := s.RefreshEvidence(gctx, gene)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				s.cfg.Logger.Warn("evidence refresh failed",
					slog.String("gene", gene),
					slog.String("error_kind", errkind.Of(err).String()),
					slog.String("error", err.Error()))
			case wrote:
				summary.Written++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	return summary, ctx.Err()
}

// RefreshAllEvidence refreshes every gene that has facts.
func (s *Scorer) RefreshAllEvidence(ctx context.Context) (RefreshSummary, error) {
	if s.facts == nil {
		return RefreshSummary{}, ErrNoFactStore
	}
	genes, err := s.facts.Subjects(ctx)
	if err != nil {
		return RefreshSummary{}, err
	}

	summary, err := s.RefreshEvidenceGenes(ctx, genes)
	s.cfg.Logger.Info("evidence components refreshed",
		slog.Int("genes", summary.Genes),
		slog.Int("written", summary.Written),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration))
	return summary, err
}
