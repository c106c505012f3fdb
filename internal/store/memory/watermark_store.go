package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openlegis/lexarc/internal/law"
)

// WatermarkStore is a mutex-guarded in-memory law.WatermarkStore.
type WatermarkStore struct {
	mu    sync.RWMutex
	marks map[string]*law.Watermark
	now   func() time.Time
}

// NewWatermarkStore returns an empty in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{
		marks: make(map[string]*law.Watermark),
		now:   time.Now,
	}
}

// Get returns the watermark for a source, or law.ErrNotFound.
func (s *WatermarkStore) Get(_ context.Context, source string) (*law.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.marks[source]
	if !ok {
		return nil, law.ErrNotFound
	}
	cp := *wm
	return &cp, nil
}

// Update applies the non-nil fields of upd, creating the row on first use.
func (s *WatermarkStore) Update(_ context.Context, source string, upd law.WatermarkUpdate) error {
	if source == "" {
		return law.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.marks[source]
	if !ok {
		wm = &law.Watermark{Source: source}
		s.marks[source] = wm
	}
	if upd.Marker != nil {
		wm.Marker = *upd.Marker
	}
	if upd.RunAt != nil {
		t := *upd.RunAt
		wm.LastRunAt = &t
	}
	if upd.ItemsDiscovered != nil {
		wm.LastItemsDiscovered = *upd.ItemsDiscovered
	}
	wm.UpdatedAt = s.now()
	return nil
}

// List returns every source's watermark, sorted by source name.
func (s *WatermarkStore) List(_ context.Context) ([]law.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]law.Watermark, 0, len(s.marks))
	for _, wm := range s.marks {
		out = append(out, *wm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
