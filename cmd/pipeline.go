package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/pipeline"
)

// pipelineFlags are the knobs shared by the phase commands. Limit applies to
// each phase the command runs; zero means unbounded.
type pipelineFlags struct {
	source         string
	limit          int
	force          bool
	forceRepublish bool
}

func (f *pipelineFlags) bindCommon(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "source to run (default: every registered source)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum items per phase, 0 for no limit")
}

// newRunCmd creates the 'run' subcommand, which executes the full
// discover-download-publish cycle for one or all sources.
func newRunCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the full archive pipeline",
		Long: `Discovers new documents on the configured portals, downloads their
PDFs, publishes them to the configured backend, and advances the per-source
resume watermark.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags.source, pipeline.Options{
				DiscoverLimit:  flags.limit,
				DownloadLimit:  flags.limit,
				PublishLimit:   flags.limit,
				ForceDownload:  flags.force,
				ForceRepublish: flags.forceRepublish,
			})
		},
	}
	flags.bindCommon(cmd)
	cmd.Flags().BoolVar(&flags.force, "force", false, "re-download documents that already downloaded fine")
	cmd.Flags().BoolVar(&flags.forceRepublish, "force-republish", false, "re-publish documents that already published fine")
	return cmd
}

// newDiscoverCmd creates the 'discover' subcommand. Discovery only registers
// records; no document bytes are fetched.
func newDiscoverCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discovers new documents without downloading them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags.source, pipeline.Options{
				DiscoverLimit: flags.limit,
				SkipDownload:  true,
				SkipPublish:   true,
			})
		},
	}
	flags.bindCommon(cmd)
	return cmd
}

// newDownloadCmd creates the 'download' subcommand, which fetches PDFs for
// already discovered records.
func newDownloadCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Downloads PDFs for pending records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags.source, pipeline.Options{
				DownloadLimit: flags.limit,
				SkipDiscover:  true,
				SkipPublish:   true,
				ForceDownload: flags.force,
			})
		},
	}
	flags.bindCommon(cmd)
	cmd.Flags().BoolVar(&flags.force, "force", false, "re-download documents that already downloaded fine")
	return cmd
}

// newPublishCmd creates the 'publish' subcommand, which uploads downloaded
// documents to the configured publisher.
func newPublishCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publishes downloaded documents to durable storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags.source, pipeline.Options{
				PublishLimit:   flags.limit,
				SkipDiscover:   true,
				SkipDownload:   true,
				ForceRepublish: flags.forceRepublish,
			})
		},
	}
	flags.bindCommon(cmd)
	cmd.Flags().BoolVar(&flags.forceRepublish, "force-republish", false, "re-publish documents that already published fine")
	return cmd
}

// runPipeline resolves the target sources and executes one run per source.
// Item-level failures are counted inside the run; only run-fatal errors (bad
// source name, store failures, missing publisher) surface here.
func runPipeline(cmd *cobra.Command, sourceName string, opts pipeline.Options) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	sources := []string{sourceName}
	if sourceName == "" {
		sources = appInstance.GetRegistry().Names()
		if len(sources) == 0 {
			return errors.New("no sources registered")
		}
	}

	var errs []error
	for _, name := range sources {
		res, err := appInstance.GetRunner().Run(cmd.Context(), name, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", name, err))
			appInstance.GetLogger().Error("Run failed", zap.String("source", name), zap.Error(err))
			continue
		}
		logRunResult(appInstance.GetLogger(), res)
	}
	return errors.Join(errs...)
}

func logRunResult(logger *zap.Logger, res *pipeline.Result) {
	logger.Info("Run finished",
		zap.String("run_id", res.RunID),
		zap.String("source", res.Source),
		zap.Int("discovered", res.Discovered),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("download_failed", res.DownloadFailed),
		zap.Int("published", res.Published),
		zap.Int("publish_failed", res.PublishFailed),
		zap.Int("skipped_stale", res.SkippedStale),
		zap.Bool("discovery_degraded", res.DiscoveryDegraded),
		zap.String("watermark", res.WatermarkMarker),
		zap.Bool("watermark_advanced", res.WatermarkAdvanced),
		zap.Duration("duration", res.Duration))
}
