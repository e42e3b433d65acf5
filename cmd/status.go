package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/config"
)

// newStatusCmd prints checkpoint and quota progress from the state directory.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-partition checkpoints and units below the cap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(opts.v, cmd.Flags(), statusFlagKeys)
			return opts.withApp(cmd.Context(), func(h Harvester, _ config.Config, _ *zap.Logger) error {
				rep, err := h.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(rep)
				}

				fmt.Fprintf(out, "source %s: %d/%d units, %d items (cap %d)\n",
					rep.Source, rep.Completed, rep.Total, rep.Items, rep.Cap)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PARTITION\tFIRST\tLAST\tCHECKPOINT\tDONE")
				for _, p := range rep.Partitions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n",
						p.Partition, dash(p.First), dash(p.Last), dash(p.Checkpoint), p.Completed, p.Total)
				}
				if err := tw.Flush(); err != nil {
					return fmt.Errorf("write status: %w", err)
				}
				if len(rep.BelowCap) > 0 {
					fmt.Fprintf(out, "%d completed units below cap:\n", len(rep.BelowCap))
					for _, u := range rep.BelowCap {
						fmt.Fprintf(out, "  %s %d/%d\n", u.Unit, u.Count, rep.Cap)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	flags := cmd.Flags()
	flags.String("source", "", "source key")
	flags.String("start", "", "first day, YYYY-MM-DD")
	flags.String("end", "", "last day, YYYY-MM-DD (inclusive)")
	flags.Int("workers", 1, "worker count the crawl was run with")
	flags.String("state-dir", "state", "directory holding checkpoints and quota counts")
	return cmd
}

var statusFlagKeys = map[string]string{
	"crawl.source":    "source",
	"crawl.start":     "start",
	"crawl.end":       "end",
	"crawl.workers":   "workers",
	"crawl.state_dir": "state-dir",
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
