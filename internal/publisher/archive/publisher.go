// Package archive implements the law.Publisher interface against an
// archive.org style S3 endpoint, including torrent metadata readback.
package archive

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // identifier fallback, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
)

const (
	defaultS3Endpoint   = "https://s3.us.archive.org"
	defaultMetadataBase = "https://archive.org"
	maxIdentifierLen    = 80
)

// Config captures the archive.org credentials and endpoints.
type Config struct {
	AccessKey    string
	SecretKey    string
	Collection   string
	S3Endpoint   string
	MetadataBase string
	Timeout      time.Duration
}

// Publisher uploads documents to an archive.org item per record.
type Publisher struct {
	cfg    Config
	client *http.Client
}

// New validates the config and returns a Publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("archive access_key and secret_key are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "opensource"
	}
	if cfg.S3Endpoint == "" {
		cfg.S3Endpoint = defaultS3Endpoint
	}
	if cfg.MetadataBase == "" {
		cfg.MetadataBase = defaultMetadataBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Publisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

var identifierUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// Identifier builds a stable archive item identifier for a record. Long
// identifiers fall back to an md5 digest of the record id, since the remote
// side rejects identifiers over 80 characters.
func Identifier(req law.PublishRequest) string {
	parts := []string{"lexarc", req.Source}
	if req.DocumentType != "" {
		parts = append(parts, req.DocumentType)
	}
	if req.Year != nil {
		parts = append(parts, fmt.Sprintf("%d", *req.Year))
	}
	if req.Number != "" {
		parts = append(parts, req.Number)
	}
	id := strings.Join(parts, "-")
	id = identifierUnsafe.ReplaceAllString(strings.ToLower(id), "-")
	id = strings.Trim(id, "-")
	if len(id) <= maxIdentifierLen && req.Number != "" {
		return id
	}
	sum := md5.Sum([]byte(req.RecordID)) //nolint:gosec // see import note
	return fmt.Sprintf("lexarc-%s-%s", sanitize(req.Source), hex.EncodeToString(sum[:])[:16])
}

func sanitize(s string) string {
	return strings.Trim(identifierUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Publish uploads the document bytes and returns the item's public
// coordinates. Torrent details come from a best-effort metadata readback;
// their absence is not an error.
func (p *Publisher) Publish(ctx context.Context, content []byte, req law.PublishRequest) (law.PublishReceipt, error) {
	if len(content) == 0 {
		return law.PublishReceipt{}, fmt.Errorf("empty document content")
	}
	identifier := Identifier(req)
	filename := req.Filename
	if filename == "" {
		filename = sanitize(req.RecordID) + ".pdf"
	}

	uploadURL := fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.cfg.S3Endpoint, "/"), identifier, filename)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return law.PublishReceipt{}, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", p.cfg.AccessKey, p.cfg.SecretKey))
	httpReq.Header.Set("Content-Type", "application/pdf")
	httpReq.Header.Set("x-archive-auto-make-bucket", "1")
	httpReq.Header.Set("x-archive-meta-mediatype", "texts")
	httpReq.Header.Set("x-archive-meta-collection", p.cfg.Collection)
	if req.Title != "" {
		httpReq.Header.Set("x-archive-meta-title", req.Title)
	}
	if req.PublicationDate != nil {
		httpReq.Header.Set("x-archive-meta-date", req.PublicationDate.Format("2006-01-02"))
	}
	if req.ContentHash != "" {
		httpReq.Header.Set("x-archive-meta-sha256", req.ContentHash)
	}
	httpReq.Header.Set("x-archive-meta-subject", fmt.Sprintf("legislation;%s", req.Source))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return law.PublishReceipt{}, fmt.Errorf("upload to archive: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.L.Warn("Failed to close archive upload response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return law.PublishReceipt{}, fmt.Errorf("archive upload failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	receipt := law.PublishReceipt{
		ItemID: identifier,
		URL:    fmt.Sprintf("%s/download/%s/%s", strings.TrimRight(p.cfg.MetadataBase, "/"), identifier, filename),
	}
	torrentURL, magnet := p.readbackTorrent(ctx, identifier)
	receipt.TorrentURL = torrentURL
	receipt.MagnetURI = magnet
	return receipt, nil
}

type itemMetadata struct {
	Files []struct {
		Name string `json:"name"`
		Btih string `json:"btih"`
	} `json:"files"`
}

// readbackTorrent asks the metadata API for the item's derived torrent. The
// derive job is asynchronous, so right after upload this often finds nothing.
func (p *Publisher) readbackTorrent(ctx context.Context, identifier string) (torrentURL, magnet string) {
	metaURL := fmt.Sprintf("%s/metadata/%s", strings.TrimRight(p.cfg.MetadataBase, "/"), identifier)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return "", ""
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		logging.L.Debug("archive metadata readback failed", zap.String("item", identifier), zap.Error(err))
		return "", ""
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.L.Warn("Failed to close archive metadata response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", ""
	}
	var meta itemMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		logging.L.Debug("archive metadata decode failed", zap.String("item", identifier), zap.Error(err))
		return "", ""
	}
	for _, f := range meta.Files {
		if strings.HasSuffix(f.Name, "_archive.torrent") {
			torrentURL = fmt.Sprintf("%s/download/%s/%s", strings.TrimRight(p.cfg.MetadataBase, "/"), identifier, f.Name)
			if f.Btih != "" {
				magnet = fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", f.Btih, identifier)
			}
			return torrentURL, magnet
		}
	}
	return "", ""
}
