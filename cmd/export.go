package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openlegis/lexarc/internal/export"
)

// newExportCmd creates the 'export' subcommand, which snapshots the record
// table into a Parquet dataset plus its manifest.
func newExportCmd() *cobra.Command {
	var (
		sourceName string
		year       int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports the corpus as a Parquet dataset",
		Long: `Writes a Parquet snapshot of the record table for one source,
optionally narrowed to a single year, together with a manifest describing
where the dataset and its torrent swarm can be reached.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sourceName == "" {
				return errors.New("--source is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var yearFilter *int
			if year != 0 {
				yearFilter = &year
			}

			exporter := appInstance.GetExporter()
			parquetPath, err := exporter.Export(cmd.Context(), sourceName, yearFilter)
			if err != nil {
				return fmt.Errorf("export dataset: %w", err)
			}
			manifestPath, err := exporter.WriteManifest(cmd.Context(), sourceName, yearFilter)
			if err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}

			out := map[string]string{
				"dataset_id":    export.DatasetID(sourceName, yearFilter),
				"parquet_path":  parquetPath,
				"manifest_path": manifestPath,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "source whose records to export")
	cmd.Flags().IntVar(&year, "year", 0, "restrict the dataset to one publication year")
	return cmd
}
