// Package cmd defines the CLI commands of the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/app"
	"github.com/JakeFAU/news-archive-harvester/internal/config"
	"github.com/JakeFAU/news-archive-harvester/internal/dispatcher"
	"github.com/JakeFAU/news-archive-harvester/internal/logging"
	"github.com/JakeFAU/news-archive-harvester/internal/status"
)

// Harvester is what the commands need from the application. Tests replace
// newApp to inject a fake.
type Harvester interface {
	Run(ctx context.Context) (dispatcher.Report, error)
	Status(ctx context.Context) (status.Report, error)
	Close() error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	v       *viper.Viper
	cfgFile string
}

// newRootCmd creates the root command with its own Viper instance.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable news-archive harvester.",
		Long: `harvester walks the date-indexed archives of news publishers, captures a
bounded number of articles per day (or archive page) and appends them to a
CSV file. Progress is checkpointed per partition, so re-running the same
command after a crash or Ctrl-C resumes where it stopped.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human-friendly development logging")
	mustBind(opts.v, "logging.level", flags.Lookup("log-level"))
	mustBind(opts.v, "logging.development", flags.Lookup("dev"))

	cmd.AddCommand(newCrawlCmd(opts), newStatusCmd(opts), newSourcesCmd())
	return cmd
}

// load merges the config file into the bound flags and environment.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	if err := config.ReadFile(o.v, o.cfgFile); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Decode(o.v)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// withApp loads configuration, builds the application and runs fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(Harvester, config.Config, *zap.Logger) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("error closing application services", zap.Error(err))
		}
	}()
	return fn(h, cfg, logger)
}

// bindFlags binds the flags of the command being run. Subcommands share
// keys, so binding happens at run time rather than construction.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		mustBind(v, key, flags.Lookup(name))
	}
}

// mustBind binds a flag to a Viper key; a failure is a programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
