package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/export"
	"github.com/onnwee/genetarget/internal/jobs"
)

func rankedRows(cmd *cobra.Command, rt *runtime, limit int) ([]export.Row, error) {
	scorer, err := app.NewScorer(rt.cfg, rt.stores, rt.metrics, rt.logger)
	if err != nil {
		return nil, err
	}
	targets, err := scorer.Ranked(cmd.Context(), limit)
	if err != nil {
		return nil, err
	}
	return export.Rows(targets, time.Now()), nil
}

func newRankCommand(open opener) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Print the top targets by composite score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return errkind.New(errkind.ConfigError, "rank", fmt.Sprintf("unknown format %q", format))
			}
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := rankedRows(cmd, rt, limit)
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return export.WriteTable(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "number of targets")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newExportCommand(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "export <out.parquet|->",
		Short: "Write the ranked targets to a Parquet file (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := rankedRows(cmd, rt, limit)
			if err != nil {
				return err
			}
			if err := rt.track(jobs.JobTypeExport, func() error {
				if args[0] == "-" {
					return export.WriteParquet(cmd.OutOrStdout(), rows)
				}
				return export.WriteParquetFile(args[0], rows)
			}); err != nil {
				return err
			}
			if args[0] == "-" {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d targets to %s\n", len(rows), args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "number of targets")
	return cmd
}
