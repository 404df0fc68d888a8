// Package cli defines the livegraph command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/config"
	"github.com/xxllxllxlllx/live-graph-system/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "livegraph",
		Short: "Hierarchical web-crawl aggregator with a live document feed.",
		Long: `livegraph crawls the web breadth-first from a seed URL, unifies the
output of external onion crawlers into one canonical tree document, and
keeps the visualizer's mirror of that document in sync.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the command tree.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and installs the global logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
