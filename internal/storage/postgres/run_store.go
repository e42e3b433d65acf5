// Package postgres persists the run ledger in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/news-archive-harvester/internal/store"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id            UUID PRIMARY KEY,
	source        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS harvest_units (
	run_id       UUID NOT NULL REFERENCES harvest_runs (id) ON DELETE CASCADE,
	partition    TEXT NOT NULL,
	unit         TEXT NOT NULL,
	stored       INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	filled       BOOLEAN NOT NULL,
	challenged   BOOLEAN NOT NULL,
	duration_ms  BIGINT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, partition, unit)
);`

// RunStore implements store.RunRepository.
type RunStore struct {
	pool Pool
}

// NewRunStore connects to dsn and returns a RunStore.
func NewRunStore(ctx context.Context, dsn string, ensureSchema bool) (*RunStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s := NewRunStoreWithPool(pool)
	if ensureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool.
func NewRunStoreWithPool(pool Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the ledger tables if they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return nil
}

// StartRun inserts the run unless it already exists.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, source string, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, source, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, source, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed with a status and optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordUnits upserts unit records. A unit replayed within a run
// overwrites the earlier record.
func (s *RunStore) RecordUnits(ctx context.Context, units []store.UnitRecord) error {
	query := `
		INSERT INTO harvest_units
			(run_id, partition, unit, stored, skipped, filled, challenged, duration_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, partition, unit) DO UPDATE
		SET stored = EXCLUDED.stored,
			skipped = EXCLUDED.skipped,
			filled = EXCLUDED.filled,
			challenged = EXCLUDED.challenged,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at;
	`
	for _, u := range units {
		_, err := s.pool.Exec(ctx, query,
			u.RunID,
			u.Partition,
			u.Unit,
			u.Stored,
			u.Skipped,
			u.Filled,
			u.Challenged,
			u.Duration.Milliseconds(),
			u.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record unit %s: %w", u.Unit, err)
		}
	}
	return nil
}

const runColumns = `
	r.id, r.source, r.started_at, r.finished_at, r.status, r.error_message,
	COUNT(u.unit), COALESCE(SUM(u.stored), 0)
`

// GetRun retrieves a single run with its unit totals.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT` + runColumns + `
		FROM harvest_runs r
		LEFT JOIN harvest_units u ON u.run_id = r.id
		WHERE r.id = $1
		GROUP BY r.id;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT` + runColumns + `
		FROM harvest_runs r
		LEFT JOIN harvest_units u ON u.run_id = r.id
		WHERE ($1::text IS NULL OR r.status = $1)
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListRunUnits lists a run's units, most recently completed first.
func (s *RunStore) ListRunUnits(ctx context.Context, id uuid.UUID, limit, offset int) ([]store.UnitRecord, error) {
	query := `
		SELECT run_id, partition, unit, stored, skipped, filled, challenged, duration_ms, completed_at
		FROM harvest_units
		WHERE run_id = $1
		ORDER BY completed_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run units: %w", err)
	}
	defer rows.Close()

	var units []store.UnitRecord
	for rows.Next() {
		var (
			u          store.UnitRecord
			durationMS int64
		)
		err := rows.Scan(
			&u.RunID,
			&u.Partition,
			&u.Unit,
			&u.Stored,
			&u.Skipped,
			&u.Filled,
			&u.Challenged,
			&durationMS,
			&u.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		u.Duration = time.Duration(durationMS) * time.Millisecond
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list run units: %w", err)
	}
	return units, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
		units  int64
		items  int64
	)
	if err := row.Scan(
		&run.ID,
		&run.Source,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&units,
		&items,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	run.Units = int(units)
	run.Items = int(items)
	return run, nil
}

var _ store.RunRepository = (*RunStore)(nil)
