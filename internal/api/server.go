// Package api exposes the read-only HTTP interface over the record store.
// All writes stay with the CLI pipeline; the server never mutates state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/metrics"
)

// defaultQueryLimit caps /v1/records responses when the client sends none.
const defaultQueryLimit = 100

// Server wires HTTP handlers to the stores.
type Server struct {
	router     chi.Router
	records    law.RecordStore
	watermarks law.WatermarkStore
}

// NewServer constructs a Server with middleware and routes.
func NewServer(records law.RecordStore, watermarks law.WatermarkStore) *Server {
	s := &Server{
		records:    records,
		watermarks: watermarks,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.listRecords)
			r.Get("/{record_id}", s.getRecord)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.Stats(r.Context())
	if err != nil {
		logging.L.Error("Stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	watermarks, err := s.watermarks.List(r.Context())
	if err != nil {
		logging.L.Error("Watermark list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	stats.Watermarks = watermarks
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.records.Query(r.Context(), filter)
	if err != nil {
		logging.L.Error("Record query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recordViews(recs),
		"count":   len(recs),
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "record_id")
	rec, err := s.records.GetByID(r.Context(), id)
	if errors.Is(err, law.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		logging.L.Error("Record lookup failed", zap.String("record_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}

func filterFromQuery(r *http.Request) (law.Filter, error) {
	q := r.URL.Query()
	filter := law.Filter{
		Source:       q.Get("source"),
		Status:       q.Get("status"),
		TextContains: q.Get("text"),
		Limit:        defaultQueryLimit,
	}
	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return law.Filter{}, errors.New("year must be an integer")
		}
		filter.Year = &year
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return law.Filter{}, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// recordView is the wire shape of one record. Internal bookkeeping like the
// local cache path stays out of the API.
type recordView struct {
	ID                  string         `json:"id"`
	Source              string         `json:"source"`
	Title               string         `json:"title"`
	Number              string         `json:"number,omitempty"`
	Year                *int           `json:"year,omitempty"`
	PublicationDate     *time.Time     `json:"publication_date,omitempty"`
	DocumentType        string         `json:"document_type,omitempty"`
	SourceDocumentURL   string         `json:"source_document_url,omitempty"`
	SourcePDFURL        string         `json:"source_pdf_url,omitempty"`
	ContentHash         string         `json:"content_hash,omitempty"`
	PublishedURL        string         `json:"published_url,omitempty"`
	PublishedTorrentURL string         `json:"published_torrent_url,omitempty"`
	PublishedMagnetURI  string         `json:"published_magnet_uri,omitempty"`
	ArchiveItemID       string         `json:"archive_item_id,omitempty"`
	OverallStatus       string         `json:"overall_status"`
	DownloadStatus      string         `json:"download_status"`
	PublishStatus       string         `json:"publish_status"`
	LastDownloadError   string         `json:"last_download_error,omitempty"`
	LastPublishError    string         `json:"last_publish_error,omitempty"`
	ExtraMetadata       map[string]any `json:"extra_metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func newRecordView(rec *law.Record) recordView {
	return recordView{
		ID:                  rec.ID,
		Source:              rec.Source,
		Title:               rec.Title,
		Number:              rec.Number,
		Year:                rec.Year,
		PublicationDate:     rec.PublicationDate,
		DocumentType:        rec.DocumentType,
		SourceDocumentURL:   rec.SourceDocumentURL,
		SourcePDFURL:        rec.SourcePDFURL,
		ContentHash:         rec.ContentHash,
		PublishedURL:        rec.PublishedURL,
		PublishedTorrentURL: rec.PublishedTorrentURL,
		PublishedMagnetURI:  rec.PublishedMagnetURI,
		ArchiveItemID:       rec.ArchiveItemID,
		OverallStatus:       rec.OverallStatus,
		DownloadStatus:      rec.DownloadStatus,
		PublishStatus:       rec.PublishStatus,
		LastDownloadError:   rec.LastDownloadError,
		LastPublishError:    rec.LastPublishError,
		ExtraMetadata:       rec.ExtraMetadata,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

func recordViews(recs []*law.Record) []recordView {
	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecordView(rec))
	}
	return views
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.L.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.L.Error("Panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
