// Package ingest drives the extraction pipeline over the paper corpus: pull
// unprocessed papers, extract entities, derive and merge facts, then record
// gene mentions as the processed marker.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/genetarget/internal/corpus"
	"github.com/onnwee/genetarget/internal/derive"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/extractor"
	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/mention"
	"github.com/onnwee/genetarget/internal/tracing"
)

// Defaults.
const (
	DefaultBatchSize     = 50
	DefaultWorkers       = 4
	DefaultRecordTimeout = 2 * time.Minute
)

// DirtyMarker receives the genes whose evidence changed.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, genes ...string) error
}

// Config configures a Driver.
type Config struct {
	BatchSize int
	Workers   int
	// RecordTimeout bounds one record, including after a stop request.
	RecordTimeout time.Duration
	// MaxBatches stops a run after this many batches. Zero means until the
	// corpus is drained.
	MaxBatches int
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Summary reports one run.
type Summary struct {
	RunID        string
	Batches      int
	Processed    int
	Skipped      int
	Failed       int
	GeneMentions int
	FactsMerged  int
	Genes        int
	Stopped      bool
	Duration     time.Duration
}

// Driver runs ingestion passes.
type Driver struct {
	config    Config
	corpus    corpus.Repository
	extractor extractor.Extractor
	deriver   *derive.Deriver
	facts     factstore.Store
	dirty     DirtyMarker
}

// NewDriver creates a Driver. dirty may be nil.
func NewDriver(config Config, repo corpus.Repository, ext extractor.Extractor, deriver *derive.Deriver, facts factstore.Store, dirty DirtyMarker) *Driver {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = DefaultRecordTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Driver{
		config:    config,
		corpus:    repo,
		extractor: ext,
		deriver:   deriver,
		facts:     facts,
		dirty:     dirty,
	}
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

type recordResult struct {
	outcome  outcome
	mentions int
	facts    int
	genes    []string
}

// Run processes batches until the corpus has no eligible papers left, the
// batch limit is reached, or ctx is cancelled. Cancellation takes effect
// between batches; records already started finish under RecordTimeout.
// Only a failure to pull a batch aborts the run.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := d.config.Logger.With(slog.String("run_id", summary.RunID))
	touched := make(map[string]struct{})

	logger.Info("ingestion run started",
		slog.Int("batch_size", d.config.BatchSize),
		slog.Int("workers", d.config.Workers))

	var cursor corpus.Cursor
	var runErr error
	for {
		if ctx.Err() != nil {
			summary.Stopped = true
			break
		}
		if d.config.MaxBatches > 0 && summary.Batches >= d.config.MaxBatches {
			break
		}

		batch, err := d.corpus.PullUnprocessed(ctx, cursor, d.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				summary.Stopped = true
				break
			}
			runErr = err
			logger.Error("failed to pull batch",
				slog.String("error", err.Error()),
				slog.String("error_kind", errkind.Of(err).String()))
			break
		}
		if len(batch) == 0 {
			break
		}
		// Records that stay eligible must not be pulled again in this run.
		cursor = corpus.After(batch[len(batch)-1])
		summary.Batches++

		genes := d.processBatch(ctx, logger, batch, &summary)
		for _, g := range genes {
			touched[g] = struct{}{}
		}
	}

	summary.Genes = len(touched)
	d.markDirty(ctx, logger, touched)

	summary.Duration = time.Since(start)
	if d.config.Metrics != nil {
		d.config.Metrics.ObserveRun(summary)
	}
	logger.Info("ingestion run finished",
		slog.Int("batches", summary.Batches),
		slog.Int("processed", summary.Processed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("gene_mentions", summary.GeneMentions),
		slog.Int("facts_merged", summary.FactsMerged),
		slog.Int("genes", summary.Genes),
		slog.Bool("stopped", summary.Stopped),
		slog.Duration("duration", summary.Duration))
	return summary, runErr
}

// processBatch runs the records of one batch on the worker pool and returns
// the genes that received new evidence.
func (d *Driver) processBatch(ctx context.Context, logger *slog.Logger, batch []corpus.Paper, summary *Summary) []string {
	batchStart := time.Now()
	detached := context.WithoutCancel(ctx)

	var mu sync.Mutex
	var genes []string

	var g errgroup.Group
	g.SetLimit(d.config.Workers)
	for _, p := range batch {
		g.Go(func() error {
			recCtx, cancel := context.WithTimeout(detached, d.config.RecordTimeout)
			defer cancel()

			res := d.processRecord(recCtx, logger, p)

			mu.Lock()
			defer mu.Unlock()
			switch res.outcome {
			case outcomeProcessed:
				summary.Processed++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
			}
			summary.GeneMentions += res.mentions
			summary.FactsMerged += res.facts
			genes = append(genes, res.genes...)
			return nil
		})
	}
	_ = g.Wait()

	if d.config.Metrics != nil {
		d.config.Metrics.ObserveBatch(time.Since(batchStart).Seconds(), len(batch))
	}
	return genes
}

func (d *Driver) processRecord(ctx context.Context, logger *slog.Logger, p corpus.Paper) recordResult {
	ctx, end := tracing.StartSpan(ctx, "ingest.record", attribute.String("paper_id", p.ID))

	res, err := d.ingest(ctx, p)
	end(err)

	if d.config.Metrics != nil {
		d.config.Metrics.incRecord(res.outcome)
	}
	if err != nil {
		logger.Warn("record failed",
			slog.String("paper_id", p.ID),
			slog.String("error", err.Error()),
			slog.String("error_kind", errkind.Of(err).String()))
	}
	return res
}

func (d *Driver) ingest(ctx context.Context, p corpus.Paper) (recordResult, error) {
	entities, err := d.extractor.Extract(ctx, p.Text())
	if err != nil {
		return recordResult{outcome: outcomeFailed}, err
	}

	gms := mention.GeneMentions(p.ID, entities)
	tracing.SetAttributes(ctx,
		attribute.Int("entities", len(entities)),
		attribute.Int("gene_mentions", len(gms)))
	if len(gms) == 0 {
		return recordResult{outcome: outcomeSkipped}, nil
	}

	res := recordResult{outcome: outcomeFailed}
	text := derive.Text(p.Title, p.Abstract)
	genes := mention.DistinctGenes(gms)
	for _, gene := range genes {
		for _, inc := range d.deriver.Derive(text, gene) {
			if _, err := d.facts.Merge(ctx, inc); err != nil {
				return res, err
			}
			res.facts++
		}
	}

	// The processed marker goes last.
	n, err := d.corpus.RecordGeneMentions(ctx, gms)
	if err != nil {
		return res, err
	}
	res.outcome = outcomeProcessed
	res.mentions = n
	res.genes = genes
	return res, nil
}

func (d *Driver) markDirty(ctx context.Context, logger *slog.Logger, touched map[string]struct{}) {
	if d.dirty == nil || len(touched) == 0 {
		return
	}
	genes := make([]string, 0, len(touched))
	for g := range touched {
		genes = append(genes, g)
	}
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.RecordTimeout)
	defer cancel()
	if err := d.dirty.MarkDirty(markCtx, genes...); err != nil {
		logger.Warn("failed to mark genes dirty",
			slog.Int("genes", len(genes)),
			slog.String("error", err.Error()))
	}
}
