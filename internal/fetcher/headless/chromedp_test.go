package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/openlegis/lexarc/internal/fetcher"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	f, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	if cap(f.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(f.limiter))
	}
}

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	if f.cfg.NavigationTimeout != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", f.cfg.NavigationTimeout)
	}
	if f.cfg.WaitSelector != "body" {
		t.Fatalf("expected default wait selector, got %q", f.cfg.WaitSelector)
	}

	f2, err := NewChromedp(Config{NavigationTimeout: time.Second, WaitSelector: "#container-main-offer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f2.Close()
	if f2.cfg.NavigationTimeout != time.Second || f2.cfg.WaitSelector != "#container-main-offer" {
		t.Fatalf("expected overrides to be kept, got %+v", f2.cfg)
	}
}

func TestHeaderConversions(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	netHeaders := toNetworkHeaders(src)
	switch v := netHeaders["X-Test"].(type) {
	case []string:
		if len(v) != 2 {
			t.Fatalf("expected two entries, got %v", v)
		}
	default:
		t.Fatalf("expected []string, got %T", v)
	}

	decoded := decodeHeaders(network.Headers{
		"Content-Type": "text/html; charset=windows-1252",
		"X-Multi":      []interface{}{"a", "b"},
	})
	if decoded.Get("Content-Type") != "text/html; charset=windows-1252" {
		t.Fatalf("unexpected decode: %v", decoded)
	}
	if len(decoded["X-Multi"]) != 2 {
		t.Fatalf("expected two entries, got %v", decoded["X-Multi"])
	}
}

func TestDocumentMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &documentMeta{}
	meta.listen(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "http://ditel.casacivil.ro.gov.br/COTEL/Livros/detalhes.aspx?coddoc=1",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	// Subresource responses must not overwrite the document capture.
	meta.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "http://ditel.casacivil.ro.gov.br/logo.png"},
	})
	status, headers, url := meta.result("http://req", "")
	if status != 204 || headers.Get("X-Request-ID") != "abc" {
		t.Fatalf("unexpected capture: status=%d headers=%v", status, headers)
	}
	if url != "http://ditel.casacivil.ro.gov.br/COTEL/Livros/detalhes.aspx?coddoc=1" {
		t.Fatalf("unexpected url %s", url)
	}

	meta = &documentMeta{}
	status, _, url = meta.result("http://req", "http://final")
	if status != http.StatusOK || url != "http://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestRenderableContentType(t *testing.T) {
	t.Parallel()

	html := http.Header{}
	html.Set("Content-Type", "text/HTML; charset=windows-1252")
	if !renderableContentType(html) {
		t.Fatal("html must be renderable")
	}

	if !renderableContentType(http.Header{}) {
		t.Fatal("missing content type must be treated as html")
	}

	pdf := http.Header{}
	pdf.Set("Content-Type", "application/pdf")
	if renderableContentType(pdf) {
		t.Fatal("pdf must not be renderable")
	}
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	f := NewNoop()
	if _, err := f.Fetch(context.Background(), fetcher.Request{}); err == nil {
		t.Fatal("expected error from noop fetcher")
	}
}
