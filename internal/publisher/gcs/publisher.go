// Package gcs implements the law.Publisher interface on Google Cloud
// Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
)

// Publisher uploads documents as objects in a GCS bucket.
type Publisher struct {
	Client     *storage.Client
	BucketName string
}

// New initializes a GCS client and verifies the bucket is reachable.
// Authentication is handled via Google's Application Default Credentials.
func New(ctx context.Context, bucketName string) (*Publisher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Fail fast on startup if the bucket is misconfigured.
	bkt := client.Bucket(bucketName)
	if _, err := bkt.Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close GCS client after bucket existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucketName, err)
	}

	return &Publisher{Client: client, BucketName: bucketName}, nil
}

// Publish uploads the document to {source}/{record-id}.pdf and returns the
// object's public URL. GCS has no torrent sidecar, so those receipt fields
// stay empty.
func (p *Publisher) Publish(ctx context.Context, content []byte, req law.PublishRequest) (law.PublishReceipt, error) {
	if len(content) == 0 {
		return law.PublishReceipt{}, fmt.Errorf("empty document content")
	}
	objectName := objectName(req)

	wc := p.Client.Bucket(p.BucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/pdf"
	if req.Title != "" {
		wc.Metadata = map[string]string{"title": req.Title, "source": req.Source}
	}
	if _, err := wc.Write(content); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			logging.L.Warn("Failed to close GCS writer after write failure", zap.Error(err), zap.Error(closeErr))
		}
		return law.PublishReceipt{}, fmt.Errorf("failed to write GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return law.PublishReceipt{}, fmt.Errorf("failed to close GCS writer for object %s: %w", objectName, err)
	}

	return law.PublishReceipt{
		ItemID: objectName,
		URL:    fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.BucketName, objectName),
	}, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if err := p.Client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	return nil
}

func objectName(req law.PublishRequest) string {
	name := req.Filename
	if name == "" {
		name = req.RecordID + ".pdf"
	}
	return fmt.Sprintf("%s/%s", strings.Trim(req.Source, "/"), strings.TrimLeft(name, "/"))
}
