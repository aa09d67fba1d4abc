package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/ingest"
	"github.com/onnwee/genetarget/internal/jobs"
)

func newIngestCommand(open opener) *cobra.Command {
	var (
		maxBatches int
		recompute  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Extract gene mentions from unprocessed papers and merge facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			deriver, err := app.NewDeriver(rt.cfg)
			if err != nil {
				return err
			}
			ext, err := app.NewExtractor(rt.cfg, rt.metrics, rt.logger)
			if err != nil {
				return err
			}

			driver := app.NewIngestDriver(rt.cfg, rt.stores, ext, deriver, rt.dirty, maxBatches, rt.metrics, rt.logger)
			var s ingest.Summary
			err = rt.track(jobs.JobTypeIngestion, func() (err error) {
				s, err = driver.Run(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"ingest %s: batches=%d processed=%d skipped=%d failed=%d mentions=%d facts=%d genes=%d\n",
				s.RunID, s.Batches, s.Processed, s.Skipped, s.Failed, s.GeneMentions, s.FactsMerged, s.Genes)

			if !recompute {
				return nil
			}
			return rt.drainDirty(cmd)
		},
	}
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after this many batches (0 drains the corpus)")
	cmd.Flags().BoolVar(&recompute, "recompute", true, "recompute scores for touched genes afterwards")
	return cmd
}
