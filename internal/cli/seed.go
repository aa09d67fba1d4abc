package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/corpus"
	"github.com/onnwee/genetarget/internal/errkind"
)

// seedPaper is one element of a seed file.
type seedPaper struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Abstract   string    `json:"abstract"`
	IngestedAt time.Time `json:"ingested_at"`
}

func newSeedCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <papers.json>",
		Short: "Add papers from a JSON array to the corpus",
		Long: `seed reads a JSON array of {"id","title","abstract","ingested_at"} objects
and adds them to the corpus. Papers whose id already exists are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errkind.Wrap(errkind.ConfigError, "seed", err)
			}
			var in []seedPaper
			if err := json.Unmarshal(data, &in); err != nil {
				return errkind.Wrap(errkind.DataError, "seed", fmt.Errorf("failed to parse %s: %w", args[0], err))
			}

			papers := make([]corpus.Paper, 0, len(in))
			for _, p := range in {
				papers = append(papers, corpus.Paper{ID: p.ID, Title: p.Title, Abstract: p.Abstract, IngestedAt: p.IngestedAt})
			}

			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			added, err := rt.stores.Corpus.AddPapers(cmd.Context(), papers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "papers: read=%d added=%d\n", len(papers), added)
			return nil
		},
	}
}
