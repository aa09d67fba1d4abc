package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/importer"
	"github.com/onnwee/genetarget/internal/jobs"
)

func newImportCRISPRCommand(open opener) *cobra.Command {
	var (
		layout      string
		concurrency int
		recompute   bool
	)
	cmd := &cobra.Command{
		Use:   "import-crispr <path|http(s)://...|s3://bucket/key>",
		Short: "Import CRISPR dependency scores from a CSV feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := importer.Layout(layout)
			if l != importer.GenesInRows && l != importer.GenesInColumns {
				return errkind.New(errkind.ConfigError, "import-crispr", fmt.Sprintf("unknown layout %q", layout))
			}

			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			src, err := importer.Open(cmd.Context(), args[0], app.SourceConfig(rt.cfg))
			if err != nil {
				return err
			}
			defer src.Close()

			imp := importer.NewCRISPRImporter(rt.stores.Scores, rt.dirty, importer.Config{
				Layout:      l,
				Concurrency: concurrency,
				Logger:      rt.logger,
			})
			var s importer.Summary
			err = rt.track(jobs.JobTypeCRISPRImport, func() (err error) {
				s, err = imp.Import(cmd.Context(), src)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crispr import: rows=%d genes=%d imported=%d skipped=%d failed=%d\n",
				s.Rows, s.Genes, s.Imported, s.Skipped, s.Failed)

			if !recompute {
				return nil
			}
			return rt.drainDirty(cmd)
		},
	}
	cmd.Flags().StringVar(&layout, "layout", string(importer.GenesInRows), "feed layout: rows (gene per row) or columns (DepMap, gene per column)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel upserts (0 uses the default)")
	cmd.Flags().BoolVar(&recompute, "recompute", true, "recompute scores for imported genes afterwards")
	return cmd
}
