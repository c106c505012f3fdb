package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/lexarc/internal/law"
)

func ptrInt(v int) *int { return &v }

func TestIdentifierFromMetadata(t *testing.T) {
	t.Parallel()

	id := Identifier(law.PublishRequest{
		RecordID:     "rondonia-coddoc-4321",
		Source:       "rondonia",
		DocumentType: "lei_ordinaria",
		Year:         ptrInt(2021),
		Number:       "5.021",
	})
	assert.Equal(t, "lexarc-rondonia-lei-ordinaria-2021-5-021", id)
}

func TestIdentifierFallsBackToDigest(t *testing.T) {
	t.Parallel()

	// Without a number the composed form is not unique enough.
	noNumber := Identifier(law.PublishRequest{
		RecordID: "rondonia-coddoc-4321",
		Source:   "rondonia",
	})
	assert.True(t, strings.HasPrefix(noNumber, "lexarc-rondonia-"))
	assert.LessOrEqual(t, len(noNumber), 80)

	// Oversized composed identifiers use the digest too.
	long := Identifier(law.PublishRequest{
		RecordID:     "rondonia-coddoc-9",
		Source:       "rondonia",
		DocumentType: strings.Repeat("decreto", 15),
		Number:       "9",
	})
	assert.LessOrEqual(t, len(long), 80)
	assert.True(t, strings.HasPrefix(long, "lexarc-rondonia-"))
}

func TestPublishUploadsAndReadsBackTorrent(t *testing.T) {
	t.Parallel()

	var uploaded *http.Request
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, r *http.Request) {
		uploaded = r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /metadata/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[
			{"name":"lexarc-rondonia-lei-2021-1_archive.torrent","btih":"cafebabe"},
			{"name":"doc.pdf"}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pub, err := New(Config{
		AccessKey:    "ak",
		SecretKey:    "sk",
		S3Endpoint:   srv.URL,
		MetadataBase: srv.URL,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	pubDate := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
	receipt, err := pub.Publish(context.Background(), []byte("%PDF-1.4"), law.PublishRequest{
		RecordID:        "rondonia-coddoc-1",
		Source:          "rondonia",
		DocumentType:    "lei",
		Year:            ptrInt(2021),
		Number:          "1",
		Title:           "Lei nº 1",
		PublicationDate: &pubDate,
		ContentHash:     "deadbeef",
	})
	require.NoError(t, err)

	require.NotNil(t, uploaded)
	assert.Equal(t, "LOW ak:sk", uploaded.Header.Get("Authorization"))
	assert.Equal(t, "1", uploaded.Header.Get("x-archive-auto-make-bucket"))
	assert.Equal(t, "texts", uploaded.Header.Get("x-archive-meta-mediatype"))
	assert.Equal(t, "2021-03-15", uploaded.Header.Get("x-archive-meta-date"))
	assert.Contains(t, uploaded.URL.Path, "/lexarc-rondonia-lei-2021-1/")

	assert.Equal(t, "lexarc-rondonia-lei-2021-1", receipt.ItemID)
	assert.Contains(t, receipt.URL, "/download/lexarc-rondonia-lei-2021-1/")
	assert.Contains(t, receipt.TorrentURL, "_archive.torrent")
	assert.Equal(t, "magnet:?xt=urn:btih:cafebabe&dn=lexarc-rondonia-lei-2021-1", receipt.MagnetURI)
}

func TestPublishMissingTorrentIsNotAnError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /metadata/", func(w http.ResponseWriter, _ *http.Request) {
		// The derive job has not produced a torrent yet.
		fmt.Fprint(w, `{"files":[{"name":"doc.pdf"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pub, err := New(Config{AccessKey: "ak", SecretKey: "sk", S3Endpoint: srv.URL, MetadataBase: srv.URL})
	require.NoError(t, err)

	receipt, err := pub.Publish(context.Background(), []byte("%PDF-1.4"), law.PublishRequest{
		RecordID: "rondonia-coddoc-2", Source: "rondonia", Number: "2",
	})
	require.NoError(t, err)
	assert.Empty(t, receipt.TorrentURL)
	assert.Empty(t, receipt.MagnetURI)
	assert.NotEmpty(t, receipt.URL)
}

func TestPublishSurfacesUploadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "SlowDown", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pub, err := New(Config{AccessKey: "ak", SecretKey: "sk", S3Endpoint: srv.URL, MetadataBase: srv.URL})
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), []byte("x"), law.PublishRequest{
		RecordID: "rondonia-coddoc-3", Source: "rondonia", Number: "3",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
