package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/metrics"
	"github.com/openlegis/lexarc/internal/notify"
	"github.com/openlegis/lexarc/internal/progress"
)

// discoverPhase probes the source for items after the prior marker and
// upserts them in the discovered state. A probe failure degrades the run to
// resume-from-store; a store failure is fatal. Returns the candidate marker
// taken from the last valid item.
func (r *Runner) discoverPhase(ctx context.Context, runID uuid.UUID, src law.Source, priorMarker string, limit int, res *Result) (string, error) {
	phaseStart := r.clock.Now()
	r.emitPhase(runID, res.Source, progress.PhaseDiscover, progress.StagePhaseStart, 0, 0)

	discoverCtx, cancel := context.WithTimeout(ctx, r.cfg.DiscoverTimeout)
	items, err := src.Discover(discoverCtx, law.DiscoverRequest{ResumeMarker: priorMarker, Limit: limit})
	cancel()
	if err != nil {
		// Phase-local: the rest of the run works from persisted records.
		res.DiscoveryDegraded = true
		logging.L.Warn("Discovery probe failed, continuing from store",
			zap.String("source", res.Source),
			zap.Error(err))
	}

	candidateMarker := ""
	for _, item := range items {
		if item.ID == "" || item.Source == "" || item.Title == "" {
			logging.L.Warn("Dropping invalid discovered item",
				zap.String("source", res.Source),
				zap.String("id", item.ID),
				zap.String("title", item.Title))
			continue
		}
		if err := r.records.Upsert(ctx, item.ToRecord()); err != nil {
			return "", fmt.Errorf("upsert discovered item %s: %w", item.ID, err)
		}
		res.Discovered++
		candidateMarker = item.Marker()
	}

	metrics.ObserveDiscovered(res.Source, res.Discovered)
	r.emitPhase(runID, res.Source, progress.PhaseDiscover, progress.StagePhaseDone,
		int64(res.Discovered), r.clock.Now().Sub(phaseStart))
	return candidateMarker, nil
}

// downloadPhase fetches document bytes for pending records. Item failures
// are persisted on the record and never abort the batch; store failures do.
func (r *Runner) downloadPhase(ctx context.Context, runID uuid.UUID, src law.Source, opts Options, res *Result) error {
	phaseStart := r.clock.Now()
	r.emitPhase(runID, res.Source, progress.PhaseDownload, progress.StagePhaseStart, 0, 0)

	candidates, err := r.records.SelectPendingDownload(ctx, res.Source, opts.DownloadLimit, opts.ForceDownload)
	if err != nil {
		return fmt.Errorf("select pending downloads for %s: %w", res.Source, err)
	}

	for i, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("download phase canceled: %w", err)
		}
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return fmt.Errorf("download phase canceled: %w", err)
			}
		}
		if err := r.downloadOne(ctx, runID, src, rec, res); err != nil {
			return err
		}
	}

	r.emitPhase(runID, res.Source, progress.PhaseDownload, progress.StagePhaseDone,
		int64(len(candidates)), r.clock.Now().Sub(phaseStart))
	return nil
}

func (r *Runner) downloadOne(ctx context.Context, runID uuid.UUID, src law.Source, rec *law.Record, res *Result) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	data, fetchErr := src.FetchDocument(fetchCtx, rec)
	cancel()
	now := r.clock.Now()

	if fetchErr != nil {
		res.DownloadFailed++
		metrics.ObserveDownload(res.Source, "failed", 0)
		r.emitItem(runID, res.Source, progress.PhaseDownload, rec.ID, progress.StageItemError, 0, fetchErr.Error())
		logging.L.Warn("Document download failed",
			zap.String("record_id", rec.ID),
			zap.Error(fetchErr))
		if err := r.records.MarkDownloadFailed(ctx, rec.ID, fetchErr.Error(), now); err != nil {
			return fmt.Errorf("mark download failed for %s: %w", rec.ID, err)
		}
		return nil
	}

	hash, err := r.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash document %s: %w", rec.ID, err)
	}
	path, err := r.cache.Put(rec.Source, rec.ID, data)
	if err != nil {
		// The cache directory is store-grade state; failing to write it
		// means later phases cannot be trusted.
		return fmt.Errorf("cache document %s: %w", rec.ID, err)
	}
	if err := r.records.MarkDownloaded(ctx, rec.ID, path, hash, now); err != nil {
		return fmt.Errorf("mark downloaded for %s: %w", rec.ID, err)
	}

	res.Downloaded++
	metrics.ObserveDownload(res.Source, "ok", len(data))
	r.emitItem(runID, res.Source, progress.PhaseDownload, rec.ID, progress.StageItemDone, int64(len(data)), "")
	return nil
}

// publishPhase pushes downloaded documents to the durable archive. A record
// whose cached file vanished is returned to the pending-download set instead
// of being treated as a publish failure.
func (r *Runner) publishPhase(ctx context.Context, runID uuid.UUID, opts Options, res *Result) error {
	phaseStart := r.clock.Now()
	r.emitPhase(runID, res.Source, progress.PhasePublish, progress.StagePhaseStart, 0, 0)

	candidates, err := r.records.SelectPendingPublish(ctx, res.Source, opts.PublishLimit, opts.ForceRepublish)
	if err != nil {
		return fmt.Errorf("select pending publishes for %s: %w", res.Source, err)
	}

	for i, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish phase canceled: %w", err)
		}
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return fmt.Errorf("publish phase canceled: %w", err)
			}
		}
		if err := r.publishOne(ctx, runID, rec, res); err != nil {
			return err
		}
	}

	r.emitPhase(runID, res.Source, progress.PhasePublish, progress.StagePhaseDone,
		int64(len(candidates)), r.clock.Now().Sub(phaseStart))
	return nil
}

func (r *Runner) publishOne(ctx context.Context, runID uuid.UUID, rec *law.Record, res *Result) error {
	if !r.cache.Exists(rec.LocalContentPath) {
		res.SkippedStale++
		logging.L.Warn("Cached document vanished, returning record to download queue",
			zap.String("record_id", rec.ID),
			zap.String("path", rec.LocalContentPath))
		if err := r.records.ClearContentPath(ctx, rec.ID); err != nil {
			return fmt.Errorf("clear stale content path for %s: %w", rec.ID, err)
		}
		return nil
	}

	data, err := r.cache.Read(rec.LocalContentPath)
	if err != nil {
		return fmt.Errorf("read cached document %s: %w", rec.ID, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	receipt, pubErr := r.publisher.Publish(pubCtx, data, law.PublishRequest{
		RecordID:        rec.ID,
		Source:          rec.Source,
		Title:           rec.Title,
		Number:          rec.Number,
		Year:            rec.Year,
		DocumentType:    rec.DocumentType,
		PublicationDate: rec.PublicationDate,
		ContentHash:     rec.ContentHash,
		Filename:        filepath.Base(rec.LocalContentPath),
	})
	cancel()
	now := r.clock.Now()

	if pubErr != nil {
		res.PublishFailed++
		metrics.ObservePublish(res.Source, "failed")
		r.emitItem(runID, res.Source, progress.PhasePublish, rec.ID, progress.StageItemError, 0, pubErr.Error())
		logging.L.Warn("Document publish failed",
			zap.String("record_id", rec.ID),
			zap.Error(pubErr))
		if err := r.records.MarkPublishFailed(ctx, rec.ID, pubErr.Error(), now); err != nil {
			return fmt.Errorf("mark publish failed for %s: %w", rec.ID, err)
		}
		return nil
	}

	if err := r.records.MarkPublished(ctx, rec.ID, receipt, now); err != nil {
		return fmt.Errorf("mark published for %s: %w", rec.ID, err)
	}
	res.Published++
	metrics.ObservePublish(res.Source, "ok")
	r.emitItem(runID, res.Source, progress.PhasePublish, rec.ID, progress.StageItemDone, int64(len(data)), "")
	r.notifyPublished(ctx, rec, receipt, now)
	return nil
}

// notifyPublished is best-effort; delivery failure never fails the item.
func (r *Runner) notifyPublished(ctx context.Context, rec *law.Record, receipt law.PublishReceipt, at time.Time) {
	if r.notifier == nil {
		return
	}
	msg := notify.Message{
		RecordID:     rec.ID,
		Source:       rec.Source,
		PublishedURL: receipt.URL,
		ItemID:       receipt.ItemID,
		PublishedAt:  at,
	}
	if err := r.notifier.Notify(ctx, msg); err != nil {
		logging.L.Warn("Publish notification failed",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}
