package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlegis/lexarc/internal/law"
)

// WatermarkStoreConfig controls the Postgres connection pool used for
// per-source resume state.
type WatermarkStoreConfig struct {
	DSN   string
	Table string
}

// WatermarkStore persists one resume marker row per source.
type WatermarkStore struct {
	pool  dbPool
	table string
}

// NewWatermarkStore creates a Postgres-backed WatermarkStore.
func NewWatermarkStore(ctx context.Context, cfg WatermarkStoreConfig) (*WatermarkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "source_watermarks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &WatermarkStore{pool: pool, table: table}, nil
}

// NewWatermarkStoreWithPool constructs a store from an existing pool
// (primarily for testing, or to share the record store's pool).
func NewWatermarkStoreWithPool(pool dbPool, table string) (*WatermarkStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "source_watermarks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &WatermarkStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *WatermarkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the watermark table if it does not exist.
func (s *WatermarkStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source TEXT PRIMARY KEY,
	marker TEXT NOT NULL DEFAULT '',
	last_run_at TIMESTAMPTZ,
	last_items_discovered INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure watermark schema: %w", err)
	}
	return nil
}

// Get returns the watermark for a source, or law.ErrNotFound if the source
// has never completed a run.
func (s *WatermarkStore) Get(ctx context.Context, source string) (*law.Watermark, error) {
	query := fmt.Sprintf(`
SELECT source, marker, last_run_at, last_items_discovered, updated_at
FROM %s WHERE source = $1`, s.table)
	var (
		wm    law.Watermark
		runAt *time.Time
	)
	err := s.pool.QueryRow(ctx, query, source).Scan(
		&wm.Source, &wm.Marker, &runAt, &wm.LastItemsDiscovered, &wm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, law.ErrNotFound
		}
		return nil, fmt.Errorf("get watermark %q: %w", source, err)
	}
	wm.LastRunAt = runAt
	return &wm, nil
}

// Update applies the non-nil fields of upd, creating the row on first use.
// Rows are never deleted.
func (s *WatermarkStore) Update(ctx context.Context, source string, upd law.WatermarkUpdate) error {
	if source == "" {
		return fmt.Errorf("source is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS w (source, marker, last_run_at, last_items_discovered, updated_at)
VALUES ($1, COALESCE($2, ''), $3, COALESCE($4, 0), NOW())
ON CONFLICT (source) DO UPDATE SET
	marker = COALESCE($2, w.marker),
	last_run_at = COALESCE($3, w.last_run_at),
	last_items_discovered = COALESCE($4, w.last_items_discovered),
	updated_at = NOW()`, s.table)
	if _, err := s.pool.Exec(ctx, query, source, upd.Marker, upd.RunAt, upd.ItemsDiscovered); err != nil {
		return fmt.Errorf("update watermark %q: %w", source, err)
	}
	return nil
}

// List returns every source's watermark, for stats reporting.
func (s *WatermarkStore) List(ctx context.Context) ([]law.Watermark, error) {
	query := fmt.Sprintf(`
SELECT source, marker, last_run_at, last_items_discovered, updated_at
FROM %s ORDER BY source`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()
	var out []law.Watermark
	for rows.Next() {
		var (
			wm    law.Watermark
			runAt *time.Time
		)
		if err := rows.Scan(&wm.Source, &wm.Marker, &runAt, &wm.LastItemsDiscovered, &wm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		wm.LastRunAt = runAt
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return out, nil
}
