package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageEntityStart Stage = "ENTITY_START"
	StageEntityDone  Stage = "ENTITY_DONE"
	StageEntityError Stage = "ENTITY_ERROR"
	StageItemDone    Stage = "ITEM_DONE"
)

// Outcome classifies a visited item.
type Outcome string

// Item outcomes.
const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Event captures one milestone of a harvest run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Entity is the entity key for entity and item stages.
	Entity string
	// Item is the position id for item stages.
	Item    string
	Outcome Outcome
	// Dur is the unit latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
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
	case StageEntityStart, StageEntityDone, StageEntityError:
		if e.Entity == "" {
			return fmt.Errorf("%s requires entity", e.Stage)
		}
	case StageItemDone:
		if e.Entity == "" || e.Item == "" {
			return errors.New("item done requires entity and item")
		}
		switch e.Outcome {
		case OutcomeWritten, OutcomeSkipped, OutcomeFailed:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}
