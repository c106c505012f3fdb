// Package rondonia adapts the Rondônia state legislation portal (Ditel
// COTEL). The portal has no listing endpoint; documents are enumerated by
// walking sequential coddoc identifiers on the detail page.
package rondonia

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/fetcher"
	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/policy/ratelimit"
)

// SourceName identifies this adapter in records and watermarks.
const SourceName = "rondonia"

const defaultBaseURL = "http://ditel.casacivil.ro.gov.br/COTEL/Livros/"

// Config controls the adapter.
type Config struct {
	// BaseURL is the COTEL books root; detail pages live at
	// detalhes.aspx?coddoc=N beneath it.
	BaseURL string
	// StartCoddoc is the first identifier probed when no watermark exists.
	StartCoddoc int
	// MaxConsecutiveMisses stops a discovery sweep after this many empty or
	// failing pages in a row, which marks the end of the assigned range.
	MaxConsecutiveMisses int
	Headers              http.Header
}

// Connector implements law.Source for the Rondônia portal.
type Connector struct {
	cfg     Config
	fetcher fetcher.Fetcher
	limiter *ratelimit.Limiter
}

// New builds a Connector. The fetcher decides whether pages are rendered
// headlessly; the limiter enforces per-host politeness.
func New(cfg Config, f fetcher.Fetcher, limiter *ratelimit.Limiter) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.StartCoddoc <= 0 {
		cfg.StartCoddoc = 1
	}
	if cfg.MaxConsecutiveMisses <= 0 {
		cfg.MaxConsecutiveMisses = 25
	}
	return &Connector{cfg: cfg, fetcher: f, limiter: limiter}
}

// Name implements law.Source.
func (c *Connector) Name() string { return SourceName }

// Discover walks coddoc identifiers starting after the resume marker and
// returns the items whose detail pages carry a PDF link. Pages without a
// document count toward the consecutive-miss budget but are not errors.
func (c *Connector) Discover(ctx context.Context, req law.DiscoverRequest) ([]law.RawItem, error) {
	start := c.resumeCoddoc(req.ResumeMarker)

	var (
		items  []law.RawItem
		misses int
	)
	for coddoc := start; ; coddoc++ {
		if req.Limit > 0 && len(items) >= req.Limit {
			break
		}
		if misses >= c.cfg.MaxConsecutiveMisses {
			logging.L.Info("Discovery sweep reached end of assigned range",
				zap.String("source", SourceName),
				zap.Int("last_coddoc", coddoc-1),
				zap.Int("consecutive_misses", misses))
			break
		}
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("discovery canceled: %w", err)
		}

		item, found, err := c.probe(ctx, coddoc)
		if err != nil {
			return items, err
		}
		if !found {
			misses++
			continue
		}
		misses = 0
		items = append(items, item)
	}
	return items, nil
}

// probe fetches and parses one detail page. The bool reports whether the
// page holds a document.
func (c *Connector) probe(ctx context.Context, coddoc int) (law.RawItem, bool, error) {
	pageURL := c.detailURL(coddoc)
	if err := c.limiter.Wait(ctx, pageURL); err != nil {
		return law.RawItem{}, false, err
	}

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: pageURL, Headers: c.cfg.Headers})
	if err != nil {
		// Transport errors on a single coddoc are indistinguishable from
		// unassigned identifiers; treat them as misses, not sweep failures.
		logging.L.Warn("Detail page fetch failed",
			zap.String("source", SourceName),
			zap.Int("coddoc", coddoc),
			zap.Error(err))
		return law.RawItem{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		logging.L.Debug("Detail page returned non-200",
			zap.String("source", SourceName),
			zap.Int("coddoc", coddoc),
			zap.Int("status", resp.StatusCode))
		return law.RawItem{}, false, nil
	}

	page, err := parseDetailPage(resp.Body, pageURL)
	if err != nil {
		logging.L.Warn("Detail page parse failed",
			zap.String("source", SourceName),
			zap.Int("coddoc", coddoc),
			zap.Error(err))
		return law.RawItem{}, false, nil
	}
	if page == nil {
		return law.RawItem{}, false, nil
	}

	title := page.Title
	if title == "" {
		title = fmt.Sprintf("Lei coddoc %d", coddoc)
	}
	item := law.RawItem{
		ID:              fmt.Sprintf("%s-coddoc-%d", SourceName, coddoc),
		Source:          SourceName,
		Title:           title,
		Number:          page.Number,
		Year:            page.Year,
		PublicationDate: page.PublicationDate,
		DocumentType:    page.DocumentType,
		DocumentURL:     pageURL,
		PDFURL:          page.PDFURL,
		SourceMarker:    strconv.Itoa(coddoc),
		Metadata: map[string]any{
			"coddoc":        coddoc,
			"declared_site": "Ditel COTEL RO",
			"discovered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	return item, true, nil
}

// FetchDocument downloads the PDF for one discovered record.
func (c *Connector) FetchDocument(ctx context.Context, rec *law.Record) ([]byte, error) {
	if rec.SourcePDFURL == "" {
		return nil, fmt.Errorf("record %s: %w: no source pdf url", rec.ID, law.ErrInvalidRecord)
	}
	if err := c.limiter.Wait(ctx, rec.SourcePDFURL); err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: rec.SourcePDFURL, Headers: c.cfg.Headers})
	if err != nil {
		return nil, fmt.Errorf("fetch pdf for %s: %w", rec.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pdf for %s: unexpected status %d", rec.ID, resp.StatusCode)
	}
	if !looksLikePDF(resp) {
		return nil, fmt.Errorf("fetch pdf for %s: response is not a pdf (content-type %q)",
			rec.ID, resp.Headers.Get("Content-Type"))
	}
	return resp.Body, nil
}

// resumeCoddoc maps the stored watermark back to the first identifier to
// probe. Markers written by this adapter are plain coddoc integers; anything
// else restarts the sweep from the configured beginning.
func (c *Connector) resumeCoddoc(marker string) int {
	if marker == "" {
		return c.cfg.StartCoddoc
	}
	last, err := strconv.Atoi(strings.TrimSpace(marker))
	if err != nil || last < 0 {
		logging.L.Warn("Unparseable resume marker, restarting sweep",
			zap.String("source", SourceName),
			zap.String("marker", marker))
		return c.cfg.StartCoddoc
	}
	return last + 1
}

func (c *Connector) detailURL(coddoc int) string {
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/detalhes.aspx?coddoc=%d", base, coddoc)
}

// looksLikePDF accepts either a pdf content type or the PDF magic bytes; the
// portal serves some documents with a generic octet-stream type.
func looksLikePDF(resp fetcher.Response) bool {
	if strings.Contains(strings.ToLower(resp.Headers.Get("Content-Type")), "pdf") {
		return true
	}
	return len(resp.Body) >= 4 && string(resp.Body[:4]) == "%PDF"
}
