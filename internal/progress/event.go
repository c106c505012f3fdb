// Package progress defines the event structures emitted by pipeline runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePhaseStart Stage = "PHASE_START"
	StagePhaseDone  Stage = "PHASE_DONE"
	StageItemDone   Stage = "ITEM_DONE"
	StageItemError  Stage = "ITEM_ERROR"
)

// Pipeline phase labels carried by phase and item events.
const (
	PhaseDiscover  = "discover"
	PhaseDownload  = "download"
	PhasePublish   = "publish"
	PhaseReconcile = "reconcile"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// RunID uniquely identifies a pipeline run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which run, phase, or item milestone occurred.
	Stage Stage
	// Source is the legislative source the run targets.
	Source string
	// Phase scopes phase and item events to one pipeline phase.
	Phase string
	// RecordID is set on item events.
	RecordID string
	// Bytes carries the downloaded size for download item events.
	Bytes int64
	// Items carries the batch size for phase completions.
	Items int64
	// Dur captures execution latency for phases and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePhaseStart, StagePhaseDone:
		if e.Phase == "" {
			return errors.New("phase events require a phase")
		}
	case StageItemDone, StageItemError:
		if e.Phase == "" {
			return errors.New("item events require a phase")
		}
		if e.RecordID == "" {
			return errors.New("item events require a record id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
