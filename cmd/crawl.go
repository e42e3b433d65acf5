package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand. It always resumes from the
// checkpoints in the state directory.
func newCrawlCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest a source's archive over a date range",
		Example: `  harvester crawl --source lemonde --start 2015-01-01 --end 2015-01-31 --workers 3 --cap 10
  HARVESTER_OUTPUT_POSTGRES_DSN=postgres://... harvester crawl --config harvester.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(opts.v, cmd.Flags(), crawlFlagKeys)
			return runCrawl(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.String("source", "", "source key (see 'harvester sources')")
	flags.String("start", "", "first day, YYYY-MM-DD")
	flags.String("end", "", "last day, YYYY-MM-DD (inclusive)")
	flags.Int("workers", 1, "parallel workers; changing it between runs starts new partitions")
	flags.Int("cap", 10, "items captured per unit")
	flags.Int("pages-per-month", 0, "archive pages per month for page-granular sources")
	flags.Duration("unit-delay", 0, "pause between units")
	flags.String("state-dir", "state", "directory holding checkpoints and quota counts")
	flags.String("output", "articles.csv", "CSV output path")
	flags.Int("port", 0, "serve the operator API on this port (0 disables)")
	flags.Bool("headless", false, "enable the headless browser fetcher")
	flags.Bool("respect-robots", false, "honor robots.txt")
	return cmd
}

var crawlFlagKeys = map[string]string{
	"crawl.source":          "source",
	"crawl.start":           "start",
	"crawl.end":             "end",
	"crawl.workers":         "workers",
	"crawl.cap":             "cap",
	"crawl.pages_per_month": "pages-per-month",
	"crawl.unit_delay":      "unit-delay",
	"crawl.state_dir":       "state-dir",
	"output.csv_path":       "output",
	"server.port":           "port",
	"headless.enabled":      "headless",
	"crawl.respect_robots":  "respect-robots",
}

func runCrawl(cmd *cobra.Command, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return opts.withApp(ctx, func(h Harvester, cfg config.Config, logger *zap.Logger) error {
		logger.Info("crawl starting",
			zap.String("source", cfg.Crawl.Source),
			zap.String("start", cfg.Crawl.Start),
			zap.String("end", cfg.Crawl.End),
			zap.Int("workers", cfg.Crawl.Workers),
			zap.Int("cap", cfg.Crawl.Cap),
		)
		report, err := h.Run(ctx)
		totals := report.Totals()
		fmt.Fprintf(cmd.OutOrStdout(), "units: %d  items: %d  partial units: %d  skipped: %d\n",
			totals.Units, totals.Items, totals.Partial, totals.Skipped)
		for _, res := range report.Results {
			switch {
			case res.Interrupted:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: interrupted\n", res.Partition)
			case res.Err != nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: failed: %v\n", res.Partition, res.Err)
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) && err == nil {
			logger.Info("crawl interrupted; re-run the same command to resume")
			return nil
		}
		if err != nil {
			return fmt.Errorf("crawl: %w", err)
		}
		return nil
	})
}
