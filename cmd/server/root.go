package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/config"
)

// app holds what PersistentPreRunE builds for the subcommands.
type app struct {
	configDir string
	verbose   bool

	logger *zap.Logger
	loader *config.Loader
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "csvmodels",
		Short: "Turn CSV files, Google Sheets and Screendoor projects into database tables.",
		Long: `csvmodels runs a small web wizard that infers a table schema from an external
data source, lets an operator refine the columns and imports the rows into
Postgres. Use 'serve' to run the wizard, 'migrate' to manage the schema and
'createuser' to add operators.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.verbose)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			a.logger = logger

			loader, err := config.NewLoader(a.configDir, logger)
			if err != nil {
				return err
			}
			a.loader = loader
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configDir, "config", ".", "directory containing config.yaml")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newCreateUserCmd(a))
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
