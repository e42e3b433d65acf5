package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/progress"
)

// LogSink writes ledger events as structured logs. It is the ledger of
// record when no database is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
		}
		if evt.Stage == progress.StageUnitDone {
			fields = append(fields,
				zap.String("partition", evt.Partition),
				zap.String("unit", evt.Unit),
				zap.Int("stored", evt.Stored),
				zap.Int("skipped", evt.Skipped),
				zap.Bool("filled", evt.Filled),
				zap.Bool("challenged", evt.Challenged),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("ledger event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
