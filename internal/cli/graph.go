package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/graph"
	"github.com/onnwee/genetarget/internal/jobs"
)

func newGraphSyncCommand(open opener) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "graph-sync",
		Short: "Project facts and scores into Neo4j",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			writer, err := app.NewGraphWriter(cmd.Context(), rt.cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = writer.Close(ctx)
			}()

			p := graph.NewProjector(rt.stores.Facts, rt.stores.Scores, writer, graph.Config{
				BatchSize: batchSize,
				Logger:    rt.logger,
			})
			var s graph.Summary
			err = rt.track(jobs.JobTypeGraphSync, func() (err error) {
				s, err = p.Sync(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph sync: genes=%d facts=%d scores=%d batches=%d unmapped=%d\n",
				s.Genes, s.Facts, s.Scores, s.Batches, s.Unmapped)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per write transaction (0 uses the default)")
	return cmd
}
