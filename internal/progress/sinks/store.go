package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/progress"
	"github.com/JakeFAU/news-archive-harvester/internal/store"
)

// StoreSink persists ledger events through a store.RunRepository. Unit
// records are written in one call per batch; a run is only finished after
// the units that preceded it in the batch are stored.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository and returns the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.UnitRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordUnits(ctx, pending); err != nil {
			return fmt.Errorf("record units: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.Source, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageUnitDone:
			pending = append(pending, store.UnitRecord{
				RunID:       evt.RunID,
				Partition:   evt.Partition,
				Unit:        evt.Unit,
				Stored:      evt.Stored,
				Skipped:     evt.Skipped,
				Filled:      evt.Filled,
				Challenged:  evt.Challenged,
				Duration:    evt.Dur,
				CompletedAt: evt.TS,
			})
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					n := evt.Note
					note = &n
				}
			}
			if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, status, note); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
	}
	return flush()
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
