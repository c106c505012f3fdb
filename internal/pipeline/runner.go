// Package pipeline drives the per-source state machine: discover new
// documents, download their bytes, publish them durably, then reconcile the
// resume watermark. Phases run sequentially and are independently skippable
// and independently failable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/content"
	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/metrics"
	"github.com/openlegis/lexarc/internal/notify"
	"github.com/openlegis/lexarc/internal/progress"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// SourceResolver finds a registered source adapter by name.
type SourceResolver interface {
	Lookup(name string) (law.Source, error)
}

// Hasher digests downloaded document bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config holds the run-independent pipeline knobs.
type Config struct {
	// ItemDelay is honored between download and publish items so a long
	// batch does not hammer the portal or the archive.
	ItemDelay time.Duration
	// DiscoverTimeout bounds the whole discovery phase.
	DiscoverTimeout time.Duration
	// FetchTimeout bounds one document download.
	FetchTimeout time.Duration
	// PublishTimeout bounds one publish call; archives can be slow.
	PublishTimeout time.Duration
}

// Options select which phases run and how many items each may touch.
// Zero limits mean unbounded.
type Options struct {
	DiscoverLimit int
	DownloadLimit int
	PublishLimit  int

	SkipDiscover bool
	SkipDownload bool
	SkipPublish  bool

	// ForceDownload re-fetches documents that already downloaded fine.
	ForceDownload bool
	// ForceRepublish re-publishes documents that already published fine.
	ForceRepublish bool
}

// Result summarizes one run for the CLI and tests. Item failures are counted
// here and persisted on the records; they never fail the run.
type Result struct {
	RunID  string
	Source string

	Discovered     int
	Downloaded     int
	DownloadFailed int
	Published      int
	PublishFailed  int
	SkippedStale   int

	// DiscoveryDegraded is set when the discovery probe failed and the run
	// continued from previously persisted records.
	DiscoveryDegraded bool

	WatermarkMarker   string
	WatermarkAdvanced bool

	Duration time.Duration
}

// Runner executes pipeline runs. Callers must ensure at most one concurrent
// run per source; stores are safe across distinct sources.
type Runner struct {
	records    law.RecordStore
	watermarks law.WatermarkStore
	sources    SourceResolver
	publisher  law.Publisher
	notifier   notify.Notifier
	cache      *content.Cache
	hub        *progress.Hub
	hasher     Hasher
	clock      Clock
	ids        IDGenerator
	cfg        Config
}

// Deps collects the runner's collaborators. Publisher may be nil when no
// publish backend is configured; Notifier and Hub may be nil.
type Deps struct {
	Records    law.RecordStore
	Watermarks law.WatermarkStore
	Sources    SourceResolver
	Publisher  law.Publisher
	Notifier   notify.Notifier
	Cache      *content.Cache
	Hub        *progress.Hub
	Hasher     Hasher
	Clock      Clock
	IDs        IDGenerator
}

// NewRunner builds a Runner.
func NewRunner(deps Deps, cfg Config) (*Runner, error) {
	switch {
	case deps.Records == nil:
		return nil, errors.New("record store is required")
	case deps.Watermarks == nil:
		return nil, errors.New("watermark store is required")
	case deps.Sources == nil:
		return nil, errors.New("source resolver is required")
	case deps.Cache == nil:
		return nil, errors.New("content cache is required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = 30 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Minute
	}
	return &Runner{
		records:    deps.Records,
		watermarks: deps.Watermarks,
		sources:    deps.Sources,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		cache:      deps.Cache,
		hub:        deps.Hub,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		ids:        deps.IDs,
		cfg:        cfg,
	}, nil
}

// Run executes the state machine for one source. Fatal conditions (adapter
// missing, publisher missing for a publish phase, store faults) abort the
// run and are returned; item failures are recorded and counted only.
func (r *Runner) Run(ctx context.Context, sourceName string, opts Options) (*Result, error) {
	src, err := r.sources.Lookup(sourceName)
	if err != nil {
		return nil, err
	}
	if !opts.SkipPublish && r.publisher == nil {
		return nil, fmt.Errorf("source %s: %w", sourceName, law.ErrPublisherUnavailable)
	}

	runID, err := r.ids.NewRawID()
	if err != nil {
		return nil, fmt.Errorf("allocate run id: %w", err)
	}

	res := &Result{RunID: runID.String(), Source: sourceName}
	start := r.clock.Now()
	r.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunStart, Source: sourceName})
	logging.L.Info("Pipeline run starting",
		zap.String("run_id", res.RunID),
		zap.String("source", sourceName))

	runErr := r.execute(ctx, runID, src, opts, res)

	res.Duration = r.clock.Now().Sub(start)
	if runErr != nil {
		metrics.ObserveRun(sourceName, "error")
		r.emit(progress.Event{
			RunID:  progress.UUIDToBytes(runID),
			Stage:  progress.StageRunError,
			Source: sourceName,
			Dur:    res.Duration,
			Note:   runErr.Error(),
		})
		logging.L.Error("Pipeline run failed",
			zap.String("run_id", res.RunID),
			zap.String("source", sourceName),
			zap.Error(runErr))
		return res, runErr
	}

	metrics.ObserveRun(sourceName, "ok")
	r.emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		Stage:  progress.StageRunDone,
		Source: sourceName,
		Dur:    res.Duration,
	})
	logging.L.Info("Pipeline run finished",
		zap.String("run_id", res.RunID),
		zap.String("source", sourceName),
		zap.Int("discovered", res.Discovered),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("published", res.Published),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *Runner) execute(ctx context.Context, runID uuid.UUID, src law.Source, opts Options, res *Result) error {
	priorMarker, err := r.loadMarker(ctx, res.Source)
	if err != nil {
		return err
	}

	candidateMarker := ""
	if !opts.SkipDiscover {
		candidateMarker, err = r.discoverPhase(ctx, runID, src, priorMarker, opts.DiscoverLimit, res)
		if err != nil {
			return err
		}
	}

	if !opts.SkipDownload {
		if err := r.downloadPhase(ctx, runID, src, opts, res); err != nil {
			return err
		}
	}

	if !opts.SkipPublish {
		if err := r.publishPhase(ctx, runID, opts, res); err != nil {
			return err
		}
	}

	return r.reconcilePhase(ctx, runID, priorMarker, candidateMarker, !opts.SkipDiscover, res)
}

func (r *Runner) loadMarker(ctx context.Context, source string) (string, error) {
	wm, err := r.watermarks.Get(ctx, source)
	if errors.Is(err, law.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load watermark for %s: %w", source, err)
	}
	return wm.Marker, nil
}

// reconcilePhase persists the watermark only when the marker moved or the
// run made progress, so fully idle runs do not churn the row.
func (r *Runner) reconcilePhase(ctx context.Context, runID uuid.UUID, priorMarker, candidateMarker string, discoverRan bool, res *Result) error {
	phaseStart := r.clock.Now()
	r.emitPhase(runID, res.Source, progress.PhaseReconcile, progress.StagePhaseStart, 0, 0)

	markerChanged := candidateMarker != "" && candidateMarker != priorMarker
	progressed := res.Downloaded > 0 || res.Published > 0

	res.WatermarkMarker = priorMarker
	if markerChanged || progressed {
		upd := law.WatermarkUpdate{}
		now := r.clock.Now()
		upd.RunAt = &now
		// A download- or publish-only run has no discovery count to report;
		// the stored count keeps describing the last sweep.
		if discoverRan {
			discovered := res.Discovered
			upd.ItemsDiscovered = &discovered
		}
		if markerChanged {
			upd.Marker = &candidateMarker
			res.WatermarkMarker = candidateMarker
			res.WatermarkAdvanced = true
		}
		if err := r.watermarks.Update(ctx, res.Source, upd); err != nil {
			return fmt.Errorf("persist watermark for %s: %w", res.Source, err)
		}
	}

	r.emitPhase(runID, res.Source, progress.PhaseReconcile, progress.StagePhaseDone, 0, r.clock.Now().Sub(phaseStart))
	return nil
}

// pause sleeps the inter-item delay, giving up early on cancellation.
func (r *Runner) pause(ctx context.Context) error {
	if r.cfg.ItemDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.cfg.ItemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) emit(evt progress.Event) {
	if r.hub == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.hub.Emit(evt)
}

func (r *Runner) emitPhase(runID uuid.UUID, source, phase string, stage progress.Stage, items int64, dur time.Duration) {
	if stage == progress.StagePhaseDone {
		metrics.ObservePhase(source, phase, dur)
	}
	r.emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		Stage:  stage,
		Source: source,
		Phase:  phase,
		Items:  items,
		Dur:    dur,
	})
}

func (r *Runner) emitItem(runID uuid.UUID, source, phase, recordID string, stage progress.Stage, bytes int64, note string) {
	r.emit(progress.Event{
		RunID:    progress.UUIDToBytes(runID),
		Stage:    stage,
		Source:   source,
		Phase:    phase,
		RecordID: recordID,
		Bytes:    bytes,
		Note:     note,
	})
}
