package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openlegis/lexarc/internal/law"
)

// newStatsCmd creates the 'stats' subcommand, which prints corpus counts and
// the per-source resume watermarks as JSON.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints corpus statistics and resume watermarks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			stats, err := appInstance.GetRecords().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats query: %w", err)
			}
			watermarks, err := appInstance.GetWatermarks().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("watermark list: %w", err)
			}
			stats.Watermarks = watermarks

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

// searchRow is the CLI wire shape of one matched record.
type searchRow struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Title           string     `json:"title"`
	Number          string     `json:"number,omitempty"`
	Year            *int       `json:"year,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	DocumentType    string     `json:"document_type,omitempty"`
	OverallStatus   string     `json:"overall_status"`
	PublishedURL    string     `json:"published_url,omitempty"`
}

// newSearchCmd creates the 'search' subcommand, which queries the record
// table by source, year, status, and normalized full-text match.
func newSearchCmd() *cobra.Command {
	var (
		sourceName string
		year       int
		status     string
		text       string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Searches archived records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			filter := law.Filter{
				Source:       sourceName,
				Status:       status,
				TextContains: text,
				Limit:        limit,
			}
			if year != 0 {
				filter.Year = &year
			}

			recs, err := appInstance.GetRecords().Query(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("record query: %w", err)
			}

			rows := make([]searchRow, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, searchRow{
					ID:              rec.ID,
					Source:          rec.Source,
					Title:           rec.Title,
					Number:          rec.Number,
					Year:            rec.Year,
					PublicationDate: rec.PublicationDate,
					DocumentType:    rec.DocumentType,
					OverallStatus:   rec.OverallStatus,
					PublishedURL:    rec.PublishedURL,
				})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"records": rows,
				"count":   len(rows),
			})
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "filter by source")
	cmd.Flags().IntVar(&year, "year", 0, "filter by publication year")
	cmd.Flags().StringVar(&status, "status", "", "filter by overall status")
	cmd.Flags().StringVar(&text, "text", "", "accent-insensitive substring match on the text")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	return cmd
}
