package fetcher

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/logging"
)

// RenderDetector decides whether a fetched page is a JavaScript shell whose
// real content only materializes in a browser.
type RenderDetector interface {
	NeedsRender(resp Response) bool
}

// Fallback fetches through the fast client first and retries with the
// rendered client only when the detector flags the response. Binary
// documents pass straight through.
type Fallback struct {
	fast     Fetcher
	rendered Fetcher
	detector RenderDetector
}

// NewFallback composes a fast fetcher with a rendered one. rendered may be
// nil, in which case the fast result is always returned as-is.
func NewFallback(fast, rendered Fetcher, detector RenderDetector) *Fallback {
	return &Fallback{fast: fast, rendered: rendered, detector: detector}
}

// Fetch implements Fetcher.
func (f *Fallback) Fetch(ctx context.Context, req Request) (Response, error) {
	resp, err := f.fast.Fetch(ctx, req)
	if f.rendered == nil || f.detector == nil {
		return resp, err
	}
	if err == nil && !f.detector.NeedsRender(resp) {
		return resp, nil
	}
	if err != nil {
		logging.L.Debug("Fast fetch failed; retrying with renderer",
			zap.String("url", req.URL), zap.Error(err))
	} else {
		logging.L.Debug("Page looks script-gated; retrying with renderer",
			zap.String("url", req.URL), zap.Int("bytes", len(resp.Body)))
	}
	return f.rendered.Fetch(ctx, req)
}

// Heuristic is a rule-based RenderDetector: empty bodies, tiny script-heavy
// pages, and single-page-app mount points all trigger a rendered retry.
type Heuristic struct {
	// MinHTMLBytes is the size under which script density is inspected.
	MinHTMLBytes int
}

// NewHeuristic creates a Heuristic with a sane default threshold.
func NewHeuristic(minHTMLBytes int) *Heuristic {
	if minHTMLBytes <= 0 {
		minHTMLBytes = 2048
	}
	return &Heuristic{MinHTMLBytes: minHTMLBytes}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// NeedsRender implements RenderDetector.
func (h *Heuristic) NeedsRender(resp Response) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	if !looksLikeHTML(resp) {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	if len(resp.Body) < h.MinHTMLBytes && scriptDensityHigh(resp.Body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

// looksLikeHTML keeps PDFs and other binary payloads on the fast path.
func looksLikeHTML(resp Response) bool {
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	trimmed := bytes.TrimLeft(resp.Body, " \t\r\n")
	return len(trimmed) == 0 || trimmed[0] == '<'
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
