// Package export writes the ranked target list as Parquet or as a text table.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/onnwee/genetarget/internal/scoring"
)

// Row is one ranked target in the export schema.
type Row struct {
	Rank              int32     `parquet:"rank" json:"rank"`
	Gene              string    `parquet:"gene" json:"gene"`
	Composite         float64   `parquet:"composite_score" json:"composite_score"`
	Literature        *float64  `parquet:"literature_score,optional" json:"literature_score,omitempty"`
	MutationFrequency *float64  `parquet:"mutation_frequency_score,optional" json:"mutation_frequency_score,omitempty"`
	CRISPRDependency  *float64  `parquet:"crispr_dependency_score,optional" json:"crispr_dependency_score,omitempty"`
	CancerRelevance   float64   `parquet:"cancer_relevance" json:"cancer_relevance"`
	CancerEvidence    int64     `parquet:"cancer_evidence_count" json:"cancer_evidence_count"`
	MutationEvidence  int64     `parquet:"mutation_evidence_count" json:"mutation_evidence_count"`
	TotalEvidence     int64     `parquet:"total_evidence_count" json:"total_evidence_count"`
	UpdatedAt         time.Time `parquet:"updated_at,timestamp(millisecond)" json:"updated_at"`
	ExportedAt        time.Time `parquet:"exported_at,timestamp(millisecond)" json:"exported_at"`
}

// Rows converts ranked targets, already in rank order, to export rows.
func Rows(targets []scoring.RankedTarget, exportedAt time.Time) []Row {
	rows := make([]Row, 0, len(targets))
	for i, t := range targets {
		var composite float64
		if t.Composite != nil {
			composite = *t.Composite
		}
		rows = append(rows, Row{
			Rank:              int32(i + 1),
			Gene:              t.Gene,
			Composite:         composite,
			Literature:        t.Literature,
			MutationFrequency: t.MutationFrequency,
			CRISPRDependency:  t.CRISPRDependency,
			CancerRelevance:   t.CancerRelevance,
			CancerEvidence:    t.Evidence.CancerEvidenceCount,
			MutationEvidence:  t.Evidence.MutationEvidenceCount,
			TotalEvidence:     t.Evidence.TotalEvidenceCount,
			UpdatedAt:         t.UpdatedAt.UTC(),
			ExportedAt:        exportedAt.UTC(),
		})
	}
	return rows
}

// WriteParquet encodes rows to w.
func WriteParquet(w io.Writer, rows []Row) error {
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("failed to write parquet: %w", err)
	}
	return nil
}

// WriteParquetFile writes rows to path, creating parent directories.
func WriteParquetFile(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadParquetFile loads rows written by WriteParquetFile.
func ReadParquetFile(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}

// WriteTable prints rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tGENE\tCOMPOSITE\tLITERATURE\tMUTATION\tCRISPR\tRELEVANCE\tEVIDENCE\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\t%s\t%s\t%.3f\t%d\t\n",
			r.Rank, r.Gene, r.Composite,
			cell(r.Literature), cell(r.MutationFrequency), cell(r.CRISPRDependency),
			r.CancerRelevance, r.TotalEvidence)
	}
	return tw.Flush()
}

func cell(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
