package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/jobs"
	"github.com/onnwee/genetarget/internal/scoring"
)

func newRecomputeCommand(open opener) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute composite scores",
		Long: `recompute drains the dirty-gene set. With --all it refreshes the evidence
components of every gene with facts and recomputes every scoreable gene,
which is how new weights or caps are rolled out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !all {
				return rt.drainDirty(cmd)
			}

			scorer, err := app.NewScorer(rt.cfg, rt.stores, rt.metrics, rt.logger)
			if err != nil {
				return err
			}
			var refresh scoring.RefreshSummary
			err = rt.track(jobs.JobTypeComponentRefresh, func() (err error) {
				refresh, err = scorer.RefreshAllEvidence(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			var s scoring.Summary
			err = rt.track(jobs.JobTypeCompositeRecompute, func() (err error) {
				s, err = scorer.RecomputeAll(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evidence: genes=%d written=%d failed=%d\n",
				refresh.Genes, refresh.Written, refresh.Failed)
			fmt.Fprintf(cmd.OutOrStdout(), "recomputed: genes=%d scored=%d nulls=%d failed=%d\n",
				s.Genes, s.Scored, s.Nulls, s.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute every gene, not just dirty ones")
	return cmd
}
