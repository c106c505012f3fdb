// Package memory contains an in-memory publisher implementation for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/openlegis/lexarc/internal/law"
)

// Publisher stores published documents for inspection.
type Publisher struct {
	mu        sync.RWMutex
	published []Published
	failWith  error
}

// Published captures one publish call.
type Published struct {
	Request law.PublishRequest
	Content []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the document and returns a deterministic receipt.
func (p *Publisher) Publish(_ context.Context, content []byte, req law.PublishRequest) (law.PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return law.PublishReceipt{}, p.failWith
	}
	cp := append([]byte(nil), content...)
	p.published = append(p.published, Published{Request: req, Content: cp})
	itemID := fmt.Sprintf("memory-%d", len(p.published))
	return law.PublishReceipt{
		ItemID:     itemID,
		URL:        "https://memory.test/download/" + itemID,
		TorrentURL: "https://memory.test/download/" + itemID + "/item_archive.torrent",
		MagnetURI:  "magnet:?xt=urn:btih:deadbeef&dn=" + itemID,
	}, nil
}

// PublishedItems returns the recorded publishes.
func (p *Publisher) PublishedItems() []Published {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Published, len(p.published))
	copy(out, p.published)
	return out
}
