package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/lexarc/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Source: "rondonia"},
		{
			RunID:    runID,
			TS:       time.Now().Add(10 * time.Second),
			Stage:    progress.StageItemDone,
			Source:   "rondonia",
			Phase:    progress.PhaseDownload,
			RecordID: "rondonia-coddoc-1",
			Bytes:    1024,
			Dur:      200 * time.Millisecond,
		},
		{
			RunID:  runID,
			TS:     time.Now().Add(12 * time.Second),
			Stage:  progress.StagePhaseDone,
			Source: "rondonia",
			Phase:  progress.PhaseDownload,
			Items:  1,
			Dur:    12 * time.Second,
		},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Source: "rondonia", Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("rondonia", progress.PhaseDownload, "success")),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.itemBytes.WithLabelValues("rondonia", progress.PhaseDownload)), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.phaseDuration, "lexarc_progress_phase_seconds"))
}

// TestPrometheusSinkCountsItemErrors covers the error result label.
func TestPrometheusSinkCountsItemErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID:    runID,
		TS:       time.Now(),
		Stage:    progress.StageItemError,
		Source:   "rondonia",
		Phase:    progress.PhasePublish,
		RecordID: "rondonia-coddoc-2",
		Note:     "http 503",
	}}))

	require.Equal(t, 1.0,
		testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("rondonia", progress.PhasePublish, "error")))
}
