// Package cmd defines and implements the CLI commands for the lexarc executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/app"
	"github.com/openlegis/lexarc/internal/export"
	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/pipeline"
	"github.com/openlegis/lexarc/internal/source"
	"github.com/openlegis/lexarc/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetRecords() law.RecordStore
	GetWatermarks() law.WatermarkStore
	GetRegistry() *source.Registry
	GetRunner() *pipeline.Runner
	GetExporter() *export.Exporter
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexarc",
		Short: "Archives Brazilian state legislation into open datasets.",
		Long: `lexarc walks official legislative portals, downloads every published
law as a PDF, uploads the documents to durable public storage, and exports
the accumulated corpus as Parquet datasets. Progress is checkpointed per
source, so interrupted runs resume where they left off.`,

		// This hook runs AFTER config is loaded but BEFORE the subcommand's RunE.
		// This is the perfect place to build and inject the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	// Initialize Viper configuration.
	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(
		newRunCmd(),
		newDiscoverCmd(),
		newDownloadCmd(),
		newPublishCmd(),
		newExportCmd(),
		newStatsCmd(),
		newSearchCmd(),
		newServeCmd(),
	)

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	// Initialize the logger once at the very start.
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
