// Package law defines the core domain model for archived legal documents:
// the canonical record, its lifecycle statuses, per-source watermarks, and
// the interfaces the rest of the application is wired through.
package law

import "time"

// Overall lifecycle statuses for a record.
const (
	StatusDiscovered = "discovered"
	StatusDownloaded = "downloaded"
	StatusPublished  = "published"
)

// Per-phase statuses for the download and publish columns.
const (
	PhasePending = "pending"
	PhaseOK      = "ok"
	PhaseFailed  = "failed"
)

// Record is the canonical representation of a single legal document as it
// moves through the discover, download, and publish phases. The ID is
// immutable and globally unique across sources ("{source}-{key}").
type Record struct {
	ID     string
	Source string

	Title           string
	Number          string
	Year            *int
	PublicationDate *time.Time
	DocumentType    string

	SourceDocumentURL string
	SourcePDFURL      string

	FullText       string
	NormalizedText string

	ContentHash      string
	LocalContentPath string

	PublishedURL        string
	PublishedTorrentURL string
	PublishedMagnetURI  string
	ArchiveItemID       string

	OverallStatus  string
	DownloadStatus string
	PublishStatus  string

	LastDownloadError     string
	LastPublishError      string
	LastDownloadAttemptAt *time.Time
	LastPublishAttemptAt  *time.Time

	ExtraMetadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RawItem is the discovery-phase output of a source adapter: enough metadata
// to register a record, before any document bytes have been fetched.
type RawItem struct {
	ID              string
	Source          string
	Title           string
	Number          string
	Year            *int
	PublicationDate *time.Time
	DocumentType    string
	DocumentURL     string
	PDFURL          string
	Metadata        map[string]any

	// SourceMarker is the adapter's own resume token for this item, for
	// sources that enumerate by something other than publication date.
	SourceMarker string
}

// ToRecord converts a discovered item into a record in the initial
// lifecycle state.
func (it RawItem) ToRecord() *Record {
	return &Record{
		ID:                it.ID,
		Source:            it.Source,
		Title:             it.Title,
		Number:            it.Number,
		Year:              it.Year,
		PublicationDate:   it.PublicationDate,
		DocumentType:      it.DocumentType,
		SourceDocumentURL: it.DocumentURL,
		SourcePDFURL:      it.PDFURL,
		ExtraMetadata:     it.Metadata,
		OverallStatus:     StatusDiscovered,
		DownloadStatus:    PhasePending,
		PublishStatus:     PhasePending,
	}
}

// Marker returns the watermark candidate for this item: the adapter's own
// resume token when set, else the publication date as YYYY-MM-DD, else the
// item ID.
func (it RawItem) Marker() string {
	if it.SourceMarker != "" {
		return it.SourceMarker
	}
	if it.PublicationDate != nil {
		return it.PublicationDate.Format("2006-01-02")
	}
	return it.ID
}

// Filter narrows a record query. All set fields are combined conjunctively.
// TextContains matches a case- and accent-insensitive substring of the
// normalized text. A zero Limit means no cap.
type Filter struct {
	Source       string
	Year         *int
	Status       string
	TextContains string
	Limit        int
}

// DiscoverRequest carries the resume point into a source adapter.
type DiscoverRequest struct {
	ResumeMarker string
	Limit        int
}

// PublishRequest carries the metadata a publisher needs alongside the
// document bytes.
type PublishRequest struct {
	RecordID        string
	Source          string
	Title           string
	Number          string
	Year            *int
	DocumentType    string
	PublicationDate *time.Time
	ContentHash     string
	Filename        string
}

// PublishReceipt is what a publisher returns for a successfully stored
// document. TorrentURL and MagnetURI are optional and depend on the backend.
type PublishReceipt struct {
	URL        string
	TorrentURL string
	MagnetURI  string
	ItemID     string
}

// Watermark is the per-source resume state. One row per source, never
// deleted.
type Watermark struct {
	Source              string
	Marker              string
	LastRunAt           *time.Time
	LastItemsDiscovered int
	UpdatedAt           time.Time
}

// WatermarkUpdate is a partial update; nil fields leave the stored value
// untouched.
type WatermarkUpdate struct {
	Marker          *string
	RunAt           *time.Time
	ItemsDiscovered *int
}

// Stats summarizes the archive for operators and the read-only API.
type Stats struct {
	Total            int64            `json:"total"`
	BySource         map[string]int64 `json:"by_source"`
	ByYear           map[int]int64    `json:"by_year"`
	ByOverallStatus  map[string]int64 `json:"by_overall_status"`
	ByDownloadStatus map[string]int64 `json:"by_download_status"`
	ByPublishStatus  map[string]int64 `json:"by_publish_status"`
	Watermarks       []Watermark      `json:"watermarks"`
}
