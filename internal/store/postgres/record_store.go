// Package postgres provides pgx-backed implementations of the record and
// watermark stores.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlegis/lexarc/internal/law"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// dbPool is the slice of pgxpool.Pool the stores need. pgxmock satisfies it.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RecordStoreConfig controls the Postgres connection pool used for law records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// RecordStore persists law records in Postgres.
type RecordStore struct {
	pool  dbPool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "laws"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool dbPool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "laws"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the laws table and its indexes if they do not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	number TEXT NOT NULL DEFAULT '',
	year INT,
	publication_date DATE,
	document_type TEXT NOT NULL DEFAULT '',
	source_document_url TEXT NOT NULL DEFAULT '',
	source_pdf_url TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL DEFAULT '',
	normalized_text TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	local_content_path TEXT NOT NULL DEFAULT '',
	published_url TEXT NOT NULL DEFAULT '',
	published_torrent_url TEXT NOT NULL DEFAULT '',
	published_magnet_uri TEXT NOT NULL DEFAULT '',
	archive_item_id TEXT NOT NULL DEFAULT '',
	overall_status TEXT NOT NULL DEFAULT 'discovered',
	download_status TEXT NOT NULL DEFAULT 'pending',
	publish_status TEXT NOT NULL DEFAULT 'pending',
	last_download_error TEXT NOT NULL DEFAULT '',
	last_publish_error TEXT NOT NULL DEFAULT '',
	last_download_attempt_at TIMESTAMPTZ,
	last_publish_attempt_at TIMESTAMPTZ,
	extra_metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source);
CREATE INDEX IF NOT EXISTS %[1]s_pubdate_idx ON %[1]s (publication_date DESC);
CREATE INDEX IF NOT EXISTS %[1]s_download_idx ON %[1]s (source, download_status);
CREATE INDEX IF NOT EXISTS %[1]s_publish_idx ON %[1]s (source, publish_status);
`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure laws schema: %w", err)
	}
	return nil
}

const recordColumns = `id, source, title, number, year, publication_date, document_type,
	source_document_url, source_pdf_url, full_text, normalized_text, content_hash,
	local_content_path, published_url, published_torrent_url, published_magnet_uri,
	archive_item_id, overall_status, download_status, publish_status,
	last_download_error, last_publish_error, last_download_attempt_at,
	last_publish_attempt_at, extra_metadata, created_at, updated_at`

// Upsert inserts a record or merges it into the existing row with the same
// id. Non-empty incoming fields win; empty ones keep the stored value.
// Phase-outcome columns are never written here, only by the Mark methods.
func (s *RecordStore) Upsert(ctx context.Context, rec *law.Record) error {
	if rec == nil || rec.ID == "" || rec.Source == "" {
		return law.ErrInvalidRecord
	}
	meta := rec.ExtraMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal extra metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS l (
	id, source, title, number, year, publication_date, document_type,
	source_document_url, source_pdf_url, full_text, normalized_text,
	extra_metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO UPDATE SET
	title = COALESCE(NULLIF(EXCLUDED.title, ''), l.title),
	number = COALESCE(NULLIF(EXCLUDED.number, ''), l.number),
	year = COALESCE(EXCLUDED.year, l.year),
	publication_date = COALESCE(EXCLUDED.publication_date, l.publication_date),
	document_type = COALESCE(NULLIF(EXCLUDED.document_type, ''), l.document_type),
	source_document_url = COALESCE(NULLIF(EXCLUDED.source_document_url, ''), l.source_document_url),
	source_pdf_url = COALESCE(NULLIF(EXCLUDED.source_pdf_url, ''), l.source_pdf_url),
	full_text = COALESCE(NULLIF(EXCLUDED.full_text, ''), l.full_text),
	normalized_text = COALESCE(NULLIF(EXCLUDED.normalized_text, ''), l.normalized_text),
	extra_metadata = l.extra_metadata || EXCLUDED.extra_metadata,
	updated_at = NOW()`, s.table)

	args := []any{
		rec.ID,
		rec.Source,
		rec.Title,
		rec.Number,
		rec.Year,
		rec.PublicationDate,
		rec.DocumentType,
		rec.SourceDocumentURL,
		rec.SourcePDFURL,
		rec.FullText,
		rec.NormalizedText,
		metaJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert law record: %w", err)
	}
	return nil
}

// GetByID fetches a single record by its immutable id.
func (s *RecordStore) GetByID(ctx context.Context, id string) (*law.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, law.ErrNotFound
		}
		return nil, fmt.Errorf("get law record %q: %w", id, err)
	}
	return rec, nil
}

// Query returns records matching all set filter fields, newest publication
// date first, id as the tiebreaker.
func (s *RecordStore) Query(ctx context.Context, f law.Filter) ([]*law.Record, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Source != "" {
		conds = append(conds, "source = "+arg(f.Source))
	}
	if f.Year != nil {
		conds = append(conds, "year = "+arg(*f.Year))
	}
	if f.Status != "" {
		conds = append(conds, "overall_status = "+arg(f.Status))
	}
	if f.TextContains != "" {
		needle := law.NormalizeText(f.TextContains)
		conds = append(conds, "normalized_text LIKE '%' || "+arg(needle)+" || '%'")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, recordColumns, s.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY publication_date DESC NULLS LAST, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query law records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SelectPendingDownload returns records with a known PDF URL whose download
// phase still needs work, oldest first so backfills progress chronologically.
func (s *RecordStore) SelectPendingDownload(ctx context.Context, source string, limit int, force bool) ([]*law.Record, error) {
	cond := "AND download_status <> 'ok'"
	if force {
		cond = ""
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE source = $1 AND source_pdf_url <> '' %s
ORDER BY publication_date ASC NULLS LAST, id%s`, recordColumns, s.table, cond, limitClause(limit, 2))
	rows, err := s.pool.Query(ctx, query, limitArgs(limit, source)...)
	if err != nil {
		return nil, fmt.Errorf("select pending download: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SelectPendingPublish returns downloaded records whose publish phase still
// needs work.
func (s *RecordStore) SelectPendingPublish(ctx context.Context, source string, limit int, force bool) ([]*law.Record, error) {
	cond := "AND publish_status <> 'ok'"
	if force {
		cond = ""
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE source = $1 AND download_status = 'ok' AND local_content_path <> '' %s
ORDER BY publication_date ASC NULLS LAST, id%s`, recordColumns, s.table, cond, limitClause(limit, 2))
	rows, err := s.pool.Query(ctx, query, limitArgs(limit, source)...)
	if err != nil {
		return nil, fmt.Errorf("select pending publish: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// MarkDownloaded records a successful download.
func (s *RecordStore) MarkDownloaded(ctx context.Context, id, localPath, contentHash string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	download_status = 'ok',
	local_content_path = $2,
	content_hash = $3,
	last_download_error = '',
	last_download_attempt_at = $4,
	overall_status = CASE WHEN publish_status = 'ok' THEN 'published' ELSE 'downloaded' END,
	updated_at = NOW()
WHERE id = $1`, s.table)
	return s.execOne(ctx, "mark downloaded", query, id, localPath, contentHash, at)
}

// MarkDownloadFailed records a failed download attempt.
func (s *RecordStore) MarkDownloadFailed(ctx context.Context, id, reason string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	download_status = 'failed',
	last_download_error = $2,
	last_download_attempt_at = $3,
	updated_at = NOW()
WHERE id = $1`, s.table)
	return s.execOne(ctx, "mark download failed", query, id, reason, at)
}

// MarkPublished records a successful publication and its public coordinates.
func (s *RecordStore) MarkPublished(ctx context.Context, id string, receipt law.PublishReceipt, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	publish_status = 'ok',
	published_url = $2,
	published_torrent_url = $3,
	published_magnet_uri = $4,
	archive_item_id = $5,
	last_publish_error = '',
	last_publish_attempt_at = $6,
	overall_status = 'published',
	updated_at = NOW()
WHERE id = $1`, s.table)
	return s.execOne(ctx, "mark published", query,
		id, receipt.URL, receipt.TorrentURL, receipt.MagnetURI, receipt.ItemID, at)
}

// MarkPublishFailed records a failed publish attempt.
func (s *RecordStore) MarkPublishFailed(ctx context.Context, id, reason string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	publish_status = 'failed',
	last_publish_error = $2,
	last_publish_attempt_at = $3,
	updated_at = NOW()
WHERE id = $1`, s.table)
	return s.execOne(ctx, "mark publish failed", query, id, reason, at)
}

// ClearContentPath drops a stale local path and returns the record to the
// pending-download set.
func (s *RecordStore) ClearContentPath(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	local_content_path = '',
	download_status = 'pending',
	updated_at = NOW()
WHERE id = $1`, s.table)
	return s.execOne(ctx, "clear content path", query, id)
}

// LatestPublished returns the most recently published record for a source,
// optionally narrowed to a year.
func (s *RecordStore) LatestPublished(ctx context.Context, source string, year *int) (*law.Record, error) {
	args := []any{source}
	cond := ""
	if year != nil {
		args = append(args, *year)
		cond = "AND year = $2"
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE source = $1 AND publish_status = 'ok' %s
ORDER BY publication_date DESC NULLS LAST, updated_at DESC
LIMIT 1`, recordColumns, s.table, cond)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, law.ErrNotFound
		}
		return nil, fmt.Errorf("latest published: %w", err)
	}
	return rec, nil
}

// Stats aggregates archive counts. Watermarks are filled in by the caller
// from the watermark store.
func (s *RecordStore) Stats(ctx context.Context) (*law.Stats, error) {
	st := &law.Stats{
		BySource:         map[string]int64{},
		ByYear:           map[int]int64{},
		ByOverallStatus:  map[string]int64{},
		ByDownloadStatus: map[string]int64{},
		ByPublishStatus:  map[string]int64{},
	}
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("stats total: %w", err)
	}
	if err := s.countStrings(ctx, "source", st.BySource); err != nil {
		return nil, err
	}
	if err := s.countStrings(ctx, "overall_status", st.ByOverallStatus); err != nil {
		return nil, err
	}
	if err := s.countStrings(ctx, "download_status", st.ByDownloadStatus); err != nil {
		return nil, err
	}
	if err := s.countStrings(ctx, "publish_status", st.ByPublishStatus); err != nil {
		return nil, err
	}
	yearQuery := fmt.Sprintf(`
SELECT year, COUNT(*) FROM %s
WHERE year IS NOT NULL
GROUP BY year ORDER BY COUNT(*) DESC, year DESC LIMIT 10`, s.table)
	rows, err := s.pool.Query(ctx, yearQuery)
	if err != nil {
		return nil, fmt.Errorf("stats by year: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var year int
		var n int64
		if err := rows.Scan(&year, &n); err != nil {
			return nil, fmt.Errorf("scan year stats: %w", err)
		}
		st.ByYear[year] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats by year: %w", err)
	}
	return st, nil
}

func (s *RecordStore) countStrings(ctx context.Context, column string, dst map[string]int64) error {
	if !validTableName.MatchString(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", column, s.table, column)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("stats by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s stats: %w", column, err)
		}
		dst[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stats by %s: %w", column, err)
	}
	return nil
}

func (s *RecordStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return law.ErrNotFound
	}
	return nil
}

// limitClause and limitArgs keep a zero limit meaning "no cap".
func limitClause(limit, pos int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("\nLIMIT $%d", pos)
}

func limitArgs(limit int, args ...any) []any {
	if limit <= 0 {
		return args
	}
	return append(args, limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*law.Record, error) {
	var (
		rec      law.Record
		metaJSON []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Source,
		&rec.Title,
		&rec.Number,
		&rec.Year,
		&rec.PublicationDate,
		&rec.DocumentType,
		&rec.SourceDocumentURL,
		&rec.SourcePDFURL,
		&rec.FullText,
		&rec.NormalizedText,
		&rec.ContentHash,
		&rec.LocalContentPath,
		&rec.PublishedURL,
		&rec.PublishedTorrentURL,
		&rec.PublishedMagnetURI,
		&rec.ArchiveItemID,
		&rec.OverallStatus,
		&rec.DownloadStatus,
		&rec.PublishStatus,
		&rec.LastDownloadError,
		&rec.LastPublishError,
		&rec.LastDownloadAttemptAt,
		&rec.LastPublishAttemptAt,
		&metaJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.ExtraMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal extra metadata: %w", err)
		}
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*law.Record, error) {
	var out []*law.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan law record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate law records: %w", err)
	}
	return out, nil
}
