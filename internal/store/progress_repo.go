package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter.
func ParseRunStatus(raw string) (RunStatus, error) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunSuccess, RunError:
		return s, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run is one invocation of the crawl command.
type Run struct {
	ID           uuid.UUID
	Source       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
	// Units and Items aggregate the run's unit records.
	Units int
	Items int
}

// UnitRecord is a completed work unit within a run.
type UnitRecord struct {
	RunID       uuid.UUID
	Partition   string
	Unit        string
	Stored      int
	Skipped     int
	Filled      bool
	Challenged  bool
	Duration    time.Duration
	CompletedAt time.Time
}

// RunRepository persists the run ledger.
type RunRepository interface {
	// StartRun records a run as running. Repeating it is a no-op.
	StartRun(ctx context.Context, id uuid.UUID, source string, startedAt time.Time) error
	// FinishRun marks the run finished with status and optional error.
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// RecordUnits upserts completed units.
	RecordUnits(ctx context.Context, units []UnitRecord) error

	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	ListRunUnits(ctx context.Context, id uuid.UUID, limit, offset int) ([]UnitRecord, error)
}
