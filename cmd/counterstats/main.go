package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/janekbaraniewski/counterstats/internal/config"
	"github.com/janekbaraniewski/counterstats/internal/logging"
	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/janekbaraniewski/counterstats/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	dbPath     string

	cfg   config.Config
	log   *zap.Logger
	store *store.Store
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "counterstats",
		Short:             "counterstats stores COUNTER 5 usage reports and subscription costs in SQLite.",
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "settings file (default "+config.ConfigPath()+")")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path, overrides the configured one")

	root.AddCommand(newSetupCommand(a))
	root.AddCommand(newImportCommand(a))
	root.AddCommand(newWatchCommand(a))
	root.AddCommand(newSearchCommand(a))
	root.AddCommand(newChartCommand(a))
	root.AddCommand(newTopCommand(a))
	root.AddCommand(newRenameVendorCommand(a))
	root.AddCommand(newCostsCommand(a))
	root.AddCommand(newConvertCommand(a))
	root.AddCommand(newStatsCommand(a))
	return root
}

func (a *app) load(_ *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.store = store.New(cfg.DatabasePath, cfg.CostBackupDir, log)
	return nil
}
