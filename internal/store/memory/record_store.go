// Package memory provides in-memory store implementations used by tests and
// the "memory" storage provider.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openlegis/lexarc/internal/law"
)

// RecordStore is a mutex-guarded in-memory law.RecordStore.
type RecordStore struct {
	mu   sync.RWMutex
	recs map[string]*law.Record
	now  func() time.Time
}

// NewRecordStore returns an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		recs: make(map[string]*law.Record),
		now:  time.Now,
	}
}

// SetClock overrides the store's clock, for deterministic tests.
func (s *RecordStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func cloneRecord(r *law.Record) *law.Record {
	cp := *r
	if r.ExtraMetadata != nil {
		cp.ExtraMetadata = make(map[string]any, len(r.ExtraMetadata))
		for k, v := range r.ExtraMetadata {
			cp.ExtraMetadata[k] = v
		}
	}
	return &cp
}

// Upsert inserts or merges a record, mirroring the Postgres merge rules:
// non-empty incoming fields win, phase-outcome columns are untouched.
func (s *RecordStore) Upsert(_ context.Context, rec *law.Record) error {
	if rec == nil || rec.ID == "" || rec.Source == "" {
		return law.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	existing, ok := s.recs[rec.ID]
	if !ok {
		cp := cloneRecord(rec)
		if cp.OverallStatus == "" {
			cp.OverallStatus = law.StatusDiscovered
		}
		if cp.DownloadStatus == "" {
			cp.DownloadStatus = law.PhasePending
		}
		if cp.PublishStatus == "" {
			cp.PublishStatus = law.PhasePending
		}
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.recs[cp.ID] = cp
		return nil
	}

	mergeStr := func(dst *string, in string) {
		if in != "" {
			*dst = in
		}
	}
	mergeStr(&existing.Title, rec.Title)
	mergeStr(&existing.Number, rec.Number)
	mergeStr(&existing.DocumentType, rec.DocumentType)
	mergeStr(&existing.SourceDocumentURL, rec.SourceDocumentURL)
	mergeStr(&existing.SourcePDFURL, rec.SourcePDFURL)
	mergeStr(&existing.FullText, rec.FullText)
	mergeStr(&existing.NormalizedText, rec.NormalizedText)
	if rec.Year != nil {
		existing.Year = rec.Year
	}
	if rec.PublicationDate != nil {
		existing.PublicationDate = rec.PublicationDate
	}
	if len(rec.ExtraMetadata) > 0 {
		if existing.ExtraMetadata == nil {
			existing.ExtraMetadata = make(map[string]any, len(rec.ExtraMetadata))
		}
		for k, v := range rec.ExtraMetadata {
			existing.ExtraMetadata[k] = v
		}
	}
	existing.UpdatedAt = now
	return nil
}

// GetByID returns a copy of the stored record.
func (s *RecordStore) GetByID(_ context.Context, id string) (*law.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, law.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func sortNewestFirst(recs []*law.Record) {
	sort.Slice(recs, func(i, j int) bool {
		di, dj := recs[i].PublicationDate, recs[j].PublicationDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.After(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return recs[i].ID < recs[j].ID
	})
}

func sortOldestFirst(recs []*law.Record) {
	sort.Slice(recs, func(i, j int) bool {
		di, dj := recs[i].PublicationDate, recs[j].PublicationDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di == nil && dj != nil:
			return false
		case di != nil && dj == nil:
			return true
		}
		return recs[i].ID < recs[j].ID
	})
}

// Query returns records matching all set filter fields, newest first.
func (s *RecordStore) Query(_ context.Context, f law.Filter) ([]*law.Record, error) {
	needle := ""
	if f.TextContains != "" {
		needle = law.NormalizeText(f.TextContains)
	}
	s.mu.RLock()
	var out []*law.Record
	for _, rec := range s.recs {
		if f.Source != "" && rec.Source != f.Source {
			continue
		}
		if f.Year != nil && (rec.Year == nil || *rec.Year != *f.Year) {
			continue
		}
		if f.Status != "" && rec.OverallStatus != f.Status {
			continue
		}
		if needle != "" && !strings.Contains(rec.NormalizedText, needle) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SelectPendingDownload mirrors the Postgres selector semantics.
func (s *RecordStore) SelectPendingDownload(_ context.Context, source string, limit int, force bool) ([]*law.Record, error) {
	s.mu.RLock()
	var out []*law.Record
	for _, rec := range s.recs {
		if rec.Source != source || rec.SourcePDFURL == "" {
			continue
		}
		if !force && rec.DownloadStatus == law.PhaseOK {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()
	sortOldestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SelectPendingPublish mirrors the Postgres selector semantics.
func (s *RecordStore) SelectPendingPublish(_ context.Context, source string, limit int, force bool) ([]*law.Record, error) {
	s.mu.RLock()
	var out []*law.Record
	for _, rec := range s.recs {
		if rec.Source != source || rec.DownloadStatus != law.PhaseOK || rec.LocalContentPath == "" {
			continue
		}
		if !force && rec.PublishStatus == law.PhaseOK {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()
	sortOldestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) mutate(id string, fn func(*law.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return law.ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = s.now()
	return nil
}

// MarkDownloaded records a successful download.
func (s *RecordStore) MarkDownloaded(_ context.Context, id, localPath, contentHash string, at time.Time) error {
	return s.mutate(id, func(rec *law.Record) {
		rec.DownloadStatus = law.PhaseOK
		rec.LocalContentPath = localPath
		rec.ContentHash = contentHash
		rec.LastDownloadError = ""
		t := at
		rec.LastDownloadAttemptAt = &t
		if rec.PublishStatus == law.PhaseOK {
			rec.OverallStatus = law.StatusPublished
		} else {
			rec.OverallStatus = law.StatusDownloaded
		}
	})
}

// MarkDownloadFailed records a failed download attempt.
func (s *RecordStore) MarkDownloadFailed(_ context.Context, id, reason string, at time.Time) error {
	return s.mutate(id, func(rec *law.Record) {
		rec.DownloadStatus = law.PhaseFailed
		rec.LastDownloadError = reason
		t := at
		rec.LastDownloadAttemptAt = &t
	})
}

// MarkPublished records a successful publication.
func (s *RecordStore) MarkPublished(_ context.Context, id string, receipt law.PublishReceipt, at time.Time) error {
	return s.mutate(id, func(rec *law.Record) {
		rec.PublishStatus = law.PhaseOK
		rec.PublishedURL = receipt.URL
		rec.PublishedTorrentURL = receipt.TorrentURL
		rec.PublishedMagnetURI = receipt.MagnetURI
		rec.ArchiveItemID = receipt.ItemID
		rec.LastPublishError = ""
		t := at
		rec.LastPublishAttemptAt = &t
		rec.OverallStatus = law.StatusPublished
	})
}

// MarkPublishFailed records a failed publish attempt.
func (s *RecordStore) MarkPublishFailed(_ context.Context, id, reason string, at time.Time) error {
	return s.mutate(id, func(rec *law.Record) {
		rec.PublishStatus = law.PhaseFailed
		rec.LastPublishError = reason
		t := at
		rec.LastPublishAttemptAt = &t
	})
}

// ClearContentPath drops a stale local path and returns the record to the
// pending-download set.
func (s *RecordStore) ClearContentPath(_ context.Context, id string) error {
	return s.mutate(id, func(rec *law.Record) {
		rec.LocalContentPath = ""
		rec.DownloadStatus = law.PhasePending
	})
}

// LatestPublished returns the most recently published record for a source.
func (s *RecordStore) LatestPublished(_ context.Context, source string, year *int) (*law.Record, error) {
	s.mu.RLock()
	var candidates []*law.Record
	for _, rec := range s.recs {
		if rec.Source != source || rec.PublishStatus != law.PhaseOK {
			continue
		}
		if year != nil && (rec.Year == nil || *rec.Year != *year) {
			continue
		}
		candidates = append(candidates, cloneRecord(rec))
	}
	s.mu.RUnlock()
	if len(candidates) == 0 {
		return nil, law.ErrNotFound
	}
	sortNewestFirst(candidates)
	return candidates[0], nil
}

// Stats aggregates archive counts. Watermarks are filled in by the caller.
func (s *RecordStore) Stats(_ context.Context) (*law.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &law.Stats{
		BySource:         map[string]int64{},
		ByYear:           map[int]int64{},
		ByOverallStatus:  map[string]int64{},
		ByDownloadStatus: map[string]int64{},
		ByPublishStatus:  map[string]int64{},
	}
	for _, rec := range s.recs {
		st.Total++
		st.BySource[rec.Source]++
		if rec.Year != nil {
			st.ByYear[*rec.Year]++
		}
		st.ByOverallStatus[rec.OverallStatus]++
		st.ByDownloadStatus[rec.DownloadStatus]++
		st.ByPublishStatus[rec.PublishStatus]++
	}
	return st, nil
}
