// Package importer loads externally computed gene scores into the score
// store.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/mention"
	"github.com/onnwee/genetarget/internal/scores"
)

// DefaultConcurrency bounds parallel score writes.
const DefaultConcurrency = 8

// Layout says where genes sit in the CSV.
type Layout string

const (
	// GenesInRows: first column is the gene, remaining columns are values.
	GenesInRows Layout = "rows"
	// GenesInColumns: first column is a cell line, every other header is a
	// gene. This is the published DepMap gene effect layout.
	GenesInColumns Layout = "columns"
)

// ErrEmptyFeed is returned when the input has no header row.
var ErrEmptyFeed = errors.New("crispr feed is empty")

// entrezSuffix matches DepMap headers like "KRAS (3845)".
var entrezSuffix = regexp.MustCompile(`\s*\(\d+\)\s*$`)

// DirtyMarker receives the genes whose components changed.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, genes ...string) error
}

// Config configures a CRISPRImporter.
type Config struct {
	Layout      Layout
	Concurrency int
	Logger      *slog.Logger
}

// Summary reports one import.
type Summary struct {
	Rows     int
	Genes    int
	Imported int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// CRISPRImporter writes the crispr_dependency component.
type CRISPRImporter struct {
	store  scores.Store
	dirty  DirtyMarker
	config Config
}

// NewCRISPRImporter creates an importer. dirty may be nil.
func NewCRISPRImporter(store scores.Store, dirty DirtyMarker, config Config) *CRISPRImporter {
	if config.Layout == "" {
		config.Layout = GenesInRows
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CRISPRImporter{store: store, dirty: dirty, config: config}
}

// NormalizeGene strips an Entrez suffix and upper-cases the symbol.
func NormalizeGene(raw string) string {
	return mention.NormalizeSymbol(entrezSuffix.ReplaceAllString(raw, ""))
}

type mean struct {
	sum float64
	n   int
}

func (m mean) value() float64 { return m.sum / float64(m.n) }

// Import reads the CSV in r and upserts one averaged value per gene.
// Malformed rows and cells are skipped and counted; per-gene store failures
// are counted and do not stop the import.
func (imp *CRISPRImporter) Import(ctx context.Context, r io.Reader) (Summary, error) {
	start := time.Now()
	logger := imp.config.Logger

	var (
		means   map[string]*mean
		summary Summary
		err     error
	)
	switch imp.config.Layout {
	case GenesInRows:
		means, err = imp.readRows(r, &summary)
	case GenesInColumns:
		means, err = imp.readColumns(r, &summary)
	default:
		return summary, errkind.New(errkind.ConfigError, "import crispr", fmt.Sprintf("unknown layout %q", imp.config.Layout))
	}
	if err != nil {
		return summary, err
	}

	genes := make([]string, 0, len(means))
	for g := range means {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	summary.Genes = len(genes)

	var imported, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.config.Concurrency)
	for _, gene := range genes {
		value := means[gene].value()
		g.Go(func() error {
			if err := imp.store.UpsertComponent(gctx, gene, scores.ComponentCRISPRDependency, value); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logger.Warn("failed to upsert crispr score",
					slog.String("gene", gene),
					slog.String("error", err.Error()),
					slog.String("error_kind", errkind.Of(err).String()))
				return nil
			}
			imported.Add(1)
			return nil
		})
	}
	waitErr := g.Wait()
	summary.Imported = int(imported.Load())
	summary.Failed = int(failed.Load())

	if imp.dirty != nil && summary.Imported > 0 {
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := imp.dirty.MarkDirty(markCtx, genes...); err != nil {
			logger.Warn("failed to mark imported genes dirty", slog.String("error", err.Error()))
		}
		cancel()
	}

	summary.Duration = time.Since(start)
	logger.Info("crispr import finished",
		slog.Int("rows", summary.Rows),
		slog.Int("genes", summary.Genes),
		slog.Int("imported", summary.Imported),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration))
	if waitErr != nil {
		return summary, errkind.Wrap(errkind.TransientIO, "import crispr", waitErr)
	}
	return summary, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	return cr
}

// next returns the next record. Ragged and unparsable lines are reported as
// DataError so the caller can skip them.
func next(cr *csv.Reader) ([]string, error) {
	rec, err := cr.Read()
	if err == nil || err == io.EOF {
		return rec, err
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return nil, errkind.Wrap(errkind.DataError, "read crispr row", err)
	}
	return nil, errkind.Wrap(errkind.TransientIO, "read crispr feed", err)
}

func readHeader(cr *csv.Reader) ([]string, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errkind.Wrap(errkind.DataError, "read crispr header", ErrEmptyFeed)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.DataError, "read crispr header", err)
	}
	if len(header) < 2 {
		return nil, errkind.New(errkind.DataError, "read crispr header", "need a gene column and at least one value column")
	}
	return header, nil
}

func parseValue(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (imp *CRISPRImporter) skip(summary *Summary, line int, reason string) {
	summary.Skipped++
	imp.config.Logger.Debug("skipping crispr row",
		slog.Int("line", line),
		slog.String("reason", reason),
		slog.String("error_kind", errkind.DataError.String()))
}

func (imp *CRISPRImporter) readRows(r io.Reader, summary *Summary) (map[string]*mean, error) {
	cr := newReader(r)
	if _, err := readHeader(cr); err != nil {
		return nil, err
	}

	means := make(map[string]*mean)
	for line := 2; ; line++ {
		rec, err := next(cr)
		if err == io.EOF {
			break
		}
		summary.Rows++
		if err != nil {
			if !errkind.Is(err, errkind.DataError) {
				return nil, err
			}
			imp.skip(summary, line, err.Error())
			continue
		}

		gene := NormalizeGene(rec[0])
		if gene == "" {
			imp.skip(summary, line, "blank gene")
			continue
		}
		var row mean
		for _, cell := range rec[1:] {
			if v, ok := parseValue(cell); ok {
				row.sum += v
				row.n++
			}
		}
		if row.n == 0 {
			imp.skip(summary, line, "no parsable value")
			continue
		}
		m := means[gene]
		if m == nil {
			m = &mean{}
			means[gene] = m
		}
		m.sum += row.sum
		m.n += row.n
	}
	return means, nil
}

func (imp *CRISPRImporter) readColumns(r io.Reader, summary *Summary) (map[string]*mean, error) {
	cr := newReader(r)
	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	genes := make([]string, len(header))
	means := make(map[string]*mean)
	for i, h := range header[1:] {
		genes[i+1] = NormalizeGene(h)
	}

	for line := 2; ; line++ {
		rec, err := next(cr)
		if err == io.EOF {
			break
		}
		summary.Rows++
		if err != nil {
			if !errkind.Is(err, errkind.DataError) {
				return nil, err
			}
			imp.skip(summary, line, err.Error())
			continue
		}

		parsed := 0
		for i := 1; i < len(rec); i++ {
			if genes[i] == "" {
				continue
			}
			v, ok := parseValue(rec[i])
			if !ok {
				continue
			}
			m := means[genes[i]]
			if m == nil {
				m = &mean{}
				means[genes[i]] = m
			}
			m.sum += v
			m.n++
			parsed++
		}
		if parsed == 0 {
			imp.skip(summary, line, "no parsable value")
		}
	}
	return means, nil
}
