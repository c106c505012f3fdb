// Package export serializes record-store snapshots to parquet files with
// JSON manifests, for downstream dataset consumers.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
)

const defaultDownloadBase = "https://archive.org/download"

// Config controls where exports land and how durable URLs are predicted.
type Config struct {
	// Dir is the local export directory.
	Dir string
	// DownloadBase is the archive download root used for predicted dataset
	// URLs in manifests.
	DownloadBase string
}

// Exporter is read-only over the record store.
type Exporter struct {
	records law.RecordStore
	clock   func() time.Time
	cfg     Config
}

// New builds an Exporter, creating the export directory if needed.
func New(records law.RecordStore, cfg Config) (*Exporter, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("export directory is required")
	}
	if cfg.DownloadBase == "" {
		cfg.DownloadBase = defaultDownloadBase
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Exporter{records: records, clock: func() time.Time { return time.Now().UTC() }, cfg: cfg}, nil
}

// row is the parquet schema for one exported record. Optional columns are
// pointers; the open metadata bag round-trips as a JSON string column.
type row struct {
	ID                  string     `parquet:"id"`
	Source              string     `parquet:"source"`
	Title               string     `parquet:"title"`
	Number              string     `parquet:"number"`
	Year                *int32     `parquet:"year,optional"`
	PublicationDate     *time.Time `parquet:"publication_date,optional"`
	DocumentType        string     `parquet:"document_type"`
	SourceDocumentURL   string     `parquet:"source_document_url"`
	SourcePDFURL        string     `parquet:"source_pdf_url"`
	FullText            string     `parquet:"full_text"`
	ContentHash         string     `parquet:"content_hash"`
	PublishedURL        string     `parquet:"published_url"`
	PublishedTorrentURL string     `parquet:"published_torrent_url"`
	PublishedMagnetURI  string     `parquet:"published_magnet_uri"`
	ArchiveItemID       string     `parquet:"archive_item_id"`
	OverallStatus       string     `parquet:"overall_status"`
	DownloadStatus      string     `parquet:"download_status"`
	PublishStatus       string     `parquet:"publish_status"`
	ExtraMetadata       string     `parquet:"extra_metadata_json"`
	CreatedAt           time.Time  `parquet:"created_at"`
	UpdatedAt           time.Time  `parquet:"updated_at"`
}

// Export snapshots every record for the source (optionally one year) into
// laws_{source}[_{year}].parquet and returns the written path.
func (e *Exporter) Export(ctx context.Context, source string, year *int) (string, error) {
	if source == "" {
		return "", errors.New("source is required")
	}
	recs, err := e.records.Query(ctx, law.Filter{Source: source, Year: year})
	if err != nil {
		return "", fmt.Errorf("query records for export: %w", err)
	}

	path := filepath.Join(e.cfg.Dir, DatasetID(source, year)+".parquet")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create parquet file: %w", err)
	}

	written, err := writeSnapshot(f, recs)
	if err != nil {
		// Never leave a truncated snapshot behind.
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close parquet file: %w", err)
	}

	logging.L.Info("Dataset exported",
		zap.String("source", source),
		zap.String("path", path),
		zap.Int("rows", written))
	return path, nil
}

func writeSnapshot(f *os.File, recs []*law.Record) (int, error) {
	w := parquet.NewGenericWriter[row](f, parquet.Compression(&parquet.Snappy))
	rows := make([]row, 0, len(recs))
	for _, rec := range recs {
		r, err := toRow(rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, r)
	}
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return 0, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalize parquet file: %w", err)
	}
	return len(rows), nil
}

// Manifest describes one exported dataset. The parquet URL is predicted from
// the archive identifier; torrent and magnet come from the most recently
// published record as a proxy for the dataset's own swarm reference.
type Manifest struct {
	DatasetID   string        `json:"dataset_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Source      string        `json:"source"`
	Year        *int          `json:"year"`
	Files       ManifestFiles `json:"files"`
}

// ManifestFiles holds the dataset's durable coordinates.
type ManifestFiles struct {
	Parquet string `json:"parquet"`
	Torrent string `json:"torrent,omitempty"`
	Magnet  string `json:"magnet,omitempty"`
}

// WriteManifest builds the manifest and writes it next to the parquet file
// as {dataset}.manifest.json, returning the written path.
func (e *Exporter) WriteManifest(ctx context.Context, source string, year *int) (string, error) {
	m, err := e.BuildManifest(ctx, source, year)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.cfg.Dir, m.DatasetID+".manifest.json")
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	logging.L.Info("Dataset manifest written",
		zap.String("source", source),
		zap.String("path", path))
	return path, nil
}

// BuildManifest assembles the manifest without touching the filesystem.
func (e *Exporter) BuildManifest(ctx context.Context, source string, year *int) (*Manifest, error) {
	if source == "" {
		return nil, errors.New("source is required")
	}
	datasetID := DatasetID(source, year)
	identifier := archiveIdentifier(source, year)

	m := &Manifest{
		DatasetID:   datasetID,
		GeneratedAt: e.clock(),
		Source:      source,
		Year:        year,
		Files: ManifestFiles{
			Parquet: fmt.Sprintf("%s/%s/%s.parquet", strings.TrimSuffix(e.cfg.DownloadBase, "/"), identifier, datasetID),
		},
	}

	latest, err := e.records.LatestPublished(ctx, source, year)
	switch {
	case errors.Is(err, law.ErrNotFound):
		logging.L.Debug("No published record to proxy dataset swarm links",
			zap.String("source", source))
	case err != nil:
		return nil, fmt.Errorf("look up latest published record: %w", err)
	default:
		m.Files.Torrent = latest.PublishedTorrentURL
		m.Files.Magnet = latest.PublishedMagnetURI
	}
	return m, nil
}

// DatasetID names a dataset snapshot: laws_{source} or laws_{source}_{year}.
func DatasetID(source string, year *int) string {
	if year != nil {
		return fmt.Sprintf("laws_%s_%d", source, *year)
	}
	return fmt.Sprintf("laws_%s", source)
}

func archiveIdentifier(source string, year *int) string {
	if year != nil {
		return fmt.Sprintf("lexarc-dataset-%s-%d", source, *year)
	}
	return fmt.Sprintf("lexarc-dataset-%s-full", source)
}

func toRow(rec *law.Record) (row, error) {
	r := row{
		ID:                  rec.ID,
		Source:              rec.Source,
		Title:               rec.Title,
		Number:              rec.Number,
		PublicationDate:     rec.PublicationDate,
		DocumentType:        rec.DocumentType,
		SourceDocumentURL:   rec.SourceDocumentURL,
		SourcePDFURL:        rec.SourcePDFURL,
		FullText:            rec.FullText,
		ContentHash:         rec.ContentHash,
		PublishedURL:        rec.PublishedURL,
		PublishedTorrentURL: rec.PublishedTorrentURL,
		PublishedMagnetURI:  rec.PublishedMagnetURI,
		ArchiveItemID:       rec.ArchiveItemID,
		OverallStatus:       rec.OverallStatus,
		DownloadStatus:      rec.DownloadStatus,
		PublishStatus:       rec.PublishStatus,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
	if rec.Year != nil {
		y := int32(*rec.Year)
		r.Year = &y
	}
	if len(rec.ExtraMetadata) > 0 {
		data, err := json.Marshal(rec.ExtraMetadata)
		if err != nil {
			return row{}, fmt.Errorf("marshal extra metadata for %s: %w", rec.ID, err)
		}
		r.ExtraMetadata = string(data)
	}
	return r, nil
}
