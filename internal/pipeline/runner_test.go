package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/lexarc/internal/content"
	"github.com/openlegis/lexarc/internal/hash/sha256"
	iduuid "github.com/openlegis/lexarc/internal/id/uuid"
	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/metrics"
	notifymem "github.com/openlegis/lexarc/internal/notify/memory"
	pubmem "github.com/openlegis/lexarc/internal/publisher/memory"
	"github.com/openlegis/lexarc/internal/store/memory"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// scriptedSource replays canned discovery batches and document bytes.
type scriptedSource struct {
	name        string
	items       []law.RawItem
	discoverErr error
	docs        map[string][]byte
	fetchErrs   map[string]error
	gotResume   string
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Discover(_ context.Context, req law.DiscoverRequest) ([]law.RawItem, error) {
	s.gotResume = req.ResumeMarker
	return s.items, s.discoverErr
}

func (s *scriptedSource) FetchDocument(_ context.Context, rec *law.Record) ([]byte, error) {
	if err, ok := s.fetchErrs[rec.ID]; ok {
		return nil, err
	}
	if doc, ok := s.docs[rec.ID]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("no document for %s", rec.ID)
}

type staticResolver struct {
	src law.Source
}

func (r staticResolver) Lookup(name string) (law.Source, error) {
	if r.src == nil || r.src.Name() != name {
		return nil, fmt.Errorf("source %q: %w", name, law.ErrSourceNotRegistered)
	}
	return r.src, nil
}

type fixture struct {
	records    *memory.RecordStore
	watermarks *memory.WatermarkStore
	publisher  *pubmem.Publisher
	notifier   *notifymem.Notifier
	cache      *content.Cache
	runner     *Runner
}

func newFixture(t *testing.T, src law.Source, cfg Config) *fixture {
	t.Helper()
	metrics.Init()

	cache, err := content.New(content.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	f := &fixture{
		records:    memory.NewRecordStore(),
		watermarks: memory.NewWatermarkStore(),
		publisher:  pubmem.New(),
		notifier:   notifymem.New(),
		cache:      cache,
	}
	runner, err := NewRunner(Deps{
		Records:    f.records,
		Watermarks: f.watermarks,
		Sources:    staticResolver{src: src},
		Publisher:  f.publisher,
		Notifier:   f.notifier,
		Cache:      cache,
		Hasher:     sha256.New(),
		Clock:      &fixedClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:        iduuid.NewUUIDGenerator(),
	}, cfg)
	require.NoError(t, err)
	f.runner = runner
	return f
}

func rawItem(n int, date time.Time) law.RawItem {
	year := date.Year()
	return law.RawItem{
		ID:              fmt.Sprintf("rondonia-coddoc-%d", n),
		Source:          "rondonia",
		Title:           fmt.Sprintf("LEI Nº %d", n),
		Number:          fmt.Sprintf("%d", n),
		Year:            &year,
		PublicationDate: &date,
		PDFURL:          fmt.Sprintf("http://portal.test/%d.pdf", n),
		SourceMarker:    fmt.Sprintf("%d", n),
	}
}

func TestRunFullPipelineHappyPath(t *testing.T) {
	t.Parallel()

	d1 := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2020, 2, 20, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, d1), rawItem(2, d2)},
		docs: map[string][]byte{
			"rondonia-coddoc-1": []byte("%PDF-1.4 one"),
			"rondonia-coddoc-2": []byte("%PDF-1.4 two"),
		},
	}
	f := newFixture(t, src, Config{})

	res, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 2, res.Published)
	assert.Zero(t, res.DownloadFailed)
	assert.Zero(t, res.PublishFailed)
	assert.NotEmpty(t, res.RunID)

	rec, err := f.records.GetByID(context.Background(), "rondonia-coddoc-2")
	require.NoError(t, err)
	assert.Equal(t, law.StatusPublished, rec.OverallStatus)
	assert.Equal(t, law.PhaseOK, rec.DownloadStatus)
	assert.Equal(t, law.PhaseOK, rec.PublishStatus)
	assert.NotEmpty(t, rec.ContentHash)
	assert.NotEmpty(t, rec.PublishedURL)
	assert.FileExists(t, rec.LocalContentPath)

	// Marker comes from the last batch item's adapter token.
	assert.True(t, res.WatermarkAdvanced)
	assert.Equal(t, "2", res.WatermarkMarker)
	wm, err := f.watermarks.Get(context.Background(), "rondonia")
	require.NoError(t, err)
	assert.Equal(t, "2", wm.Marker)
	assert.Equal(t, 2, wm.LastItemsDiscovered)

	assert.Len(t, f.notifier.Messages(), 2)
	assert.Len(t, f.publisher.PublishedItems(), 2)
}

func TestDownloadOnlyRunKeepsDiscoveryCount(t *testing.T) {
	t.Parallel()

	d := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, d), rawItem(2, d)},
		docs: map[string][]byte{
			"rondonia-coddoc-1": []byte("%PDF-1.4 one"),
			"rondonia-coddoc-2": []byte("%PDF-1.4 two"),
		},
	}
	f := newFixture(t, src, Config{})

	_, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)
	wm, err := f.watermarks.Get(context.Background(), "rondonia")
	require.NoError(t, err)
	require.Equal(t, 2, wm.LastItemsDiscovered)
	firstRunAt := wm.LastRunAt

	// A forced re-download makes progress but runs no discovery sweep.
	res, err := f.runner.Run(context.Background(), "rondonia", Options{
		SkipDiscover:  true,
		SkipPublish:   true,
		ForceDownload: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Downloaded)

	wm, err = f.watermarks.Get(context.Background(), "rondonia")
	require.NoError(t, err)
	assert.Equal(t, 2, wm.LastItemsDiscovered, "discovery count must describe the last sweep")
	assert.Equal(t, "2", wm.Marker)
	require.NotNil(t, wm.LastRunAt)
	assert.True(t, wm.LastRunAt.After(*firstRunAt))
}

func TestRunPassesWatermarkAsResumeHint(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{name: "rondonia"}
	f := newFixture(t, src, Config{})
	marker := "41"
	require.NoError(t, f.watermarks.Update(context.Background(), "rondonia", law.WatermarkUpdate{Marker: &marker}))

	_, err := f.runner.Run(context.Background(), "rondonia", Options{SkipPublish: true})
	require.NoError(t, err)
	assert.Equal(t, "41", src.gotResume)
}

func TestRunUnknownSourceIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &scriptedSource{name: "rondonia"}, Config{})
	_, err := f.runner.Run(context.Background(), "acre", Options{})
	assert.ErrorIs(t, err, law.ErrSourceNotRegistered)
}

func TestRunWithoutPublisherIsFatalOnlyWhenPublishing(t *testing.T) {
	t.Parallel()

	metrics.Init()
	src := &scriptedSource{name: "rondonia"}
	cache, err := content.New(content.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	runner, err := NewRunner(Deps{
		Records:    memory.NewRecordStore(),
		Watermarks: memory.NewWatermarkStore(),
		Sources:    staticResolver{src: src},
		Cache:      cache,
		Hasher:     sha256.New(),
		Clock:      &fixedClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:        iduuid.NewUUIDGenerator(),
	}, Config{})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), "rondonia", Options{})
	assert.ErrorIs(t, err, law.ErrPublisherUnavailable)

	_, err = runner.Run(context.Background(), "rondonia", Options{SkipPublish: true})
	assert.NoError(t, err)
}

func TestRunDiscoveryFailureDegradesToStore(t *testing.T) {
	t.Parallel()

	// A previously discovered record is already persisted.
	src := &scriptedSource{
		name:        "rondonia",
		discoverErr: errors.New("portal unreachable"),
		docs:        map[string][]byte{"rondonia-coddoc-9": []byte("%PDF-1.4 nine")},
	}
	f := newFixture(t, src, Config{})
	d := time.Date(2019, 5, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.records.Upsert(context.Background(), rawItem(9, d).ToRecord()))

	res, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)

	assert.True(t, res.DiscoveryDegraded)
	assert.Zero(t, res.Discovered)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.Published)
}

func TestRunItemFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	dates := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, dates[0]), rawItem(2, dates[1]), rawItem(3, dates[2])},
		docs: map[string][]byte{
			"rondonia-coddoc-1": []byte("%PDF-1.4 one"),
			"rondonia-coddoc-3": []byte("%PDF-1.4 three"),
		},
		fetchErrs: map[string]error{"rondonia-coddoc-2": errors.New("timeout")},
	}
	f := newFixture(t, src, Config{})

	res, err := f.runner.Run(context.Background(), "rondonia", Options{SkipPublish: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 1, res.DownloadFailed)

	failed, err := f.records.GetByID(context.Background(), "rondonia-coddoc-2")
	require.NoError(t, err)
	assert.Equal(t, law.PhaseFailed, failed.DownloadStatus)
	assert.Equal(t, "timeout", failed.LastDownloadError)
	assert.Equal(t, law.StatusDiscovered, failed.OverallStatus)

	ok, err := f.records.GetByID(context.Background(), "rondonia-coddoc-3")
	require.NoError(t, err)
	assert.Equal(t, law.StatusDownloaded, ok.OverallStatus)
}

func TestRunPublishFailureRecordedAndRetriedNextRun(t *testing.T) {
	t.Parallel()

	d := time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(5, d)},
		docs:  map[string][]byte{"rondonia-coddoc-5": []byte("%PDF-1.4 five")},
	}
	f := newFixture(t, src, Config{})
	f.publisher.FailWith(errors.New("archive 503"))

	res, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PublishFailed)
	assert.Zero(t, res.Published)

	rec, err := f.records.GetByID(context.Background(), "rondonia-coddoc-5")
	require.NoError(t, err)
	assert.Equal(t, law.PhaseFailed, rec.PublishStatus)
	assert.Equal(t, "archive 503", rec.LastPublishError)

	// Next run picks the same record up again and succeeds.
	f.publisher.FailWith(nil)
	src.items = nil
	res, err = f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
}

func TestRunIdleRunLeavesWatermarkUntouched(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{name: "rondonia"}
	f := newFixture(t, src, Config{})
	marker := "100"
	require.NoError(t, f.watermarks.Update(context.Background(), "rondonia", law.WatermarkUpdate{Marker: &marker}))
	before, err := f.watermarks.Get(context.Background(), "rondonia")
	require.NoError(t, err)

	res, err := f.runner.Run(context.Background(), "rondonia", Options{SkipPublish: true})
	require.NoError(t, err)
	assert.False(t, res.WatermarkAdvanced)
	assert.Equal(t, "100", res.WatermarkMarker)

	after, err := f.watermarks.Get(context.Background(), "rondonia")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestRunRediscoveryIsIdempotent(t *testing.T) {
	t.Parallel()

	d := time.Date(2020, 3, 3, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, d)},
		docs:  map[string][]byte{"rondonia-coddoc-1": []byte("%PDF-1.4 one")},
	}
	f := newFixture(t, src, Config{})

	_, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)
	_, err = f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)

	recs, err := f.records.Query(context.Background(), law.Filter{Source: "rondonia"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Published once; the second run found nothing pending.
	assert.Len(t, f.publisher.PublishedItems(), 1)
}

func TestRunDropsInvalidDiscoveredItems(t *testing.T) {
	t.Parallel()

	d := time.Date(2020, 3, 3, 0, 0, 0, 0, time.UTC)
	valid := rawItem(1, d)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{{ID: "", Source: "rondonia", Title: "no id"}, valid, {ID: "x", Source: "rondonia"}},
	}
	f := newFixture(t, src, Config{})

	res, err := f.runner.Run(context.Background(), "rondonia", Options{SkipDownload: true, SkipPublish: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discovered)

	_, err = f.records.GetByID(context.Background(), "rondonia-coddoc-1")
	assert.NoError(t, err)
}

func TestRunVanishedCachedFileReturnsToDownloadQueue(t *testing.T) {
	t.Parallel()

	d := time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(7, d)},
		docs:  map[string][]byte{"rondonia-coddoc-7": []byte("%PDF-1.4 seven")},
	}
	f := newFixture(t, src, Config{})

	_, err := f.runner.Run(context.Background(), "rondonia", Options{SkipPublish: true})
	require.NoError(t, err)

	rec, err := f.records.GetByID(context.Background(), "rondonia-coddoc-7")
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.LocalContentPath))

	res, err := f.runner.Run(context.Background(), "rondonia", Options{SkipDiscover: true, SkipDownload: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedStale)
	assert.Zero(t, res.Published)

	rec, err = f.records.GetByID(context.Background(), "rondonia-coddoc-7")
	require.NoError(t, err)
	assert.Empty(t, rec.LocalContentPath)
	assert.Equal(t, law.PhasePending, rec.DownloadStatus)

	// The following run re-downloads and publishes.
	res, err = f.runner.Run(context.Background(), "rondonia", Options{SkipDiscover: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.Published)
}

func TestRunCancellationBetweenItems(t *testing.T) {
	t.Parallel()

	dates := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, dates[0]), rawItem(2, dates[1])},
		docs: map[string][]byte{
			"rondonia-coddoc-1": []byte("%PDF-1.4 one"),
			"rondonia-coddoc-2": []byte("%PDF-1.4 two"),
		},
	}
	// A generous delay gives the cancel below time to land between items.
	f := newFixture(t, src, Config{ItemDelay: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := f.runner.Run(ctx, "rondonia", Options{SkipPublish: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The first item remains committed; the run is resumable.
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Downloaded)
	rec, getErr := f.records.GetByID(context.Background(), "rondonia-coddoc-1")
	require.NoError(t, getErr)
	assert.Equal(t, law.StatusDownloaded, rec.OverallStatus)
}

func TestRunForceRepublish(t *testing.T) {
	t.Parallel()

	d := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		name:  "rondonia",
		items: []law.RawItem{rawItem(1, d)},
		docs:  map[string][]byte{"rondonia-coddoc-1": []byte("%PDF-1.4 one")},
	}
	f := newFixture(t, src, Config{})

	_, err := f.runner.Run(context.Background(), "rondonia", Options{})
	require.NoError(t, err)
	require.Len(t, f.publisher.PublishedItems(), 1)

	src.items = nil
	res, err := f.runner.Run(context.Background(), "rondonia", Options{ForceRepublish: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Len(t, f.publisher.PublishedItems(), 2)
}
