package law

import (
	"context"
	"time"
)

// RecordStore persists the canonical record table. Upsert merges incoming
// non-zero fields into any existing row with the same ID and never touches
// the phase-outcome columns; those change only through the Mark operations.
type RecordStore interface {
	Upsert(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	Query(ctx context.Context, f Filter) ([]*Record, error)

	// SelectPendingDownload returns records whose download phase has not
	// succeeded, or all records with a known PDF URL when force is set.
	SelectPendingDownload(ctx context.Context, source string, limit int, force bool) ([]*Record, error)
	// SelectPendingPublish returns downloaded-but-unpublished records, or
	// all downloaded records when force is set.
	SelectPendingPublish(ctx context.Context, source string, limit int, force bool) ([]*Record, error)

	MarkDownloaded(ctx context.Context, id, localPath, contentHash string, at time.Time) error
	MarkDownloadFailed(ctx context.Context, id, reason string, at time.Time) error
	MarkPublished(ctx context.Context, id string, receipt PublishReceipt, at time.Time) error
	MarkPublishFailed(ctx context.Context, id, reason string, at time.Time) error

	// ClearContentPath drops a stale local path whose file no longer
	// exists, returning the record to the pending-download set.
	ClearContentPath(ctx context.Context, id string) error

	// LatestPublished returns the most recently published record for a
	// source, optionally narrowed to a year.
	LatestPublished(ctx context.Context, source string, year *int) (*Record, error)

	Stats(ctx context.Context) (*Stats, error)
}

// WatermarkStore persists one resume marker per source. Update creates the
// row on first use and applies only the non-nil fields.
type WatermarkStore interface {
	Get(ctx context.Context, source string) (*Watermark, error)
	Update(ctx context.Context, source string, upd WatermarkUpdate) error
	List(ctx context.Context) ([]Watermark, error)
}

// Source is a connector to one legislative portal. Discover lists items
// after the resume marker; FetchDocument retrieves the raw bytes for one
// previously discovered record.
type Source interface {
	Name() string
	Discover(ctx context.Context, req DiscoverRequest) ([]RawItem, error)
	FetchDocument(ctx context.Context, rec *Record) ([]byte, error)
}

// Publisher stores a document durably and returns its public coordinates.
type Publisher interface {
	Publish(ctx context.Context, content []byte, req PublishRequest) (PublishReceipt, error)
}
