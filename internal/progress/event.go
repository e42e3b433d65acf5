package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageRunStart Stage = "RUN_START"
	StageUnitDone Stage = "UNIT_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event is one ledger entry.
type Event struct {
	RunID  uuid.UUID
	TS     time.Time
	Stage  Stage
	Source string
	// Partition and Unit scope UNIT_DONE events.
	Partition  string
	Unit       string
	Stored     int
	Skipped    int
	Filled     bool
	Challenged bool
	Dur        time.Duration
	// Note carries the failure reason of RUN_ERROR.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageUnitDone:
		if e.Partition == "" || e.Unit == "" {
			return errors.New("unit done requires partition and unit")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Stored < 0 || e.Skipped < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
