package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local RunRepository.
type Memory struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*Run
	units map[uuid.UUID][]UnitRecord
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID]*Run), units: make(map[uuid.UUID][]UnitRecord)}
}

// StartRun implements RunRepository.
func (m *Memory) StartRun(_ context.Context, id uuid.UUID, source string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; ok {
		return nil
	}
	m.runs[id] = &Run{ID: id, Source: source, StartedAt: startedAt, Status: RunRunning}
	return nil
}

// FinishRun implements RunRepository.
func (m *Memory) FinishRun(_ context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.ErrorMessage = errMsg
	return nil
}

// RecordUnits implements RunRepository. A unit recorded twice keeps the
// latest values.
func (m *Memory) RecordUnits(_ context.Context, units []UnitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		list := m.units[u.RunID]
		replaced := false
		for i := range list {
			if list[i].Partition == u.Partition && list[i].Unit == u.Unit {
				list[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, u)
		}
		m.units[u.RunID] = list
	}
	return nil
}

// GetRun implements RunRepository.
func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return m.withTotals(*run), nil
}

// ListRuns implements RunRepository, newest first.
func (m *Memory) ListRuns(_ context.Context, status *RunStatus, limit, offset int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, m.withTotals(*run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return page(runs, limit, offset), nil
}

// ListRunUnits implements RunRepository, most recent first.
func (m *Memory) ListRunUnits(_ context.Context, id uuid.UUID, limit, offset int) ([]UnitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.runs[id]; !ok {
		return nil, ErrNotFound
	}
	units := append([]UnitRecord(nil), m.units[id]...)
	sort.SliceStable(units, func(i, j int) bool { return units[i].CompletedAt.After(units[j].CompletedAt) })
	return page(units, limit, offset), nil
}

func (m *Memory) withTotals(run Run) Run {
	for _, u := range m.units[run.ID] {
		run.Units++
		run.Items += u.Stored
	}
	return run
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
