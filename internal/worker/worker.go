// Package worker implements the per-partition crawl loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/lister"
	"github.com/JakeFAU/news-archive-harvester/internal/metrics"
	"github.com/JakeFAU/news-archive-harvester/internal/progress"
	"github.com/JakeFAU/news-archive-harvester/internal/recovery"
	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
)

// Config controls Worker behavior.
type Config struct {
	// UnitDelay is slept between consecutive units.
	UnitDelay time.Duration
}

// Deps are the collaborators of one worker. Session, Lister, Controller and
// Guard belong to this worker only; Quota and Sink may be shared.
type Deps struct {
	Adapter    crawler.Adapter
	Session    crawler.Session
	Lister     *lister.Lister
	Controller *recovery.Controller
	Guard      *recovery.SessionGuard
	Detector   crawler.Detector
	Quota      crawler.QuotaTracker
	Sink       crawler.OutputSink
	Clock      crawler.Clock
	Pauser     recovery.Pauser
	// Progress receives a UNIT_DONE event per completed unit, tagged RunID.
	Progress progress.Emitter
	RunID    uuid.UUID
}

// Stats summarizes what a worker did.
type Stats struct {
	Units      int
	Partial    int
	Items      int
	Duplicates int
	Skipped    int
}

// Worker walks one partition unit by unit.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Adapter == nil:
		return nil, errors.New("worker: adapter is required")
	case deps.Session == nil:
		return nil, errors.New("worker: session is required")
	case deps.Lister == nil:
		return nil, errors.New("worker: lister is required")
	case deps.Quota == nil:
		return nil, errors.New("worker: quota tracker is required")
	case deps.Sink == nil:
		return nil, errors.New("worker: sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Controller == nil {
		deps.Controller = recovery.NewController(recovery.Config{}, nil, logger)
	}
	if deps.Pauser == nil {
		deps.Pauser = recovery.TimerPause{}
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run walks the cursor until the partition is exhausted, the context ends or
// a fatal error occurs. The checkpoint only advances past completed units.
func (w *Worker) Run(ctx context.Context, cursor *schedule.Cursor) (Stats, error) {
	var stats Stats
	logger := w.logger.With(zap.String("partition", cursor.Partition().ID))

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	first := true
	for {
		unit, ok := cursor.Next()
		if !ok {
			logger.Info("partition finished",
				zap.Int("units", stats.Units),
				zap.Int("items", stats.Items),
				zap.Int("partial_units", stats.Partial),
			)
			return stats, nil
		}
		if !first && w.cfg.UnitDelay > 0 {
			if err := w.deps.Pauser.Pause(ctx, w.cfg.UnitDelay); err != nil {
				return stats, fmt.Errorf("unit delay: %w", err)
			}
		}
		first = false

		res, err := w.processUnit(ctx, unit, logger)
		stats.Items += res.stored
		stats.Duplicates += res.duplicates
		stats.Skipped += res.skipped
		if err != nil {
			return stats, err
		}

		if err := cursor.Complete(ctx, unit); err != nil {
			return stats, fmt.Errorf("complete unit %s: %w", unit, err)
		}
		stats.Units++
		if !res.filled {
			stats.Partial++
		}
		dur := w.since(res.started)
		metrics.ObserveUnitCompleted(w.deps.Adapter.Key())
		metrics.ObserveUnitDuration(w.deps.Adapter.Key(), dur, res.filled)
		w.deps.Progress.Emit(progress.Event{
			RunID:      w.deps.RunID,
			TS:         w.now(),
			Stage:      progress.StageUnitDone,
			Source:     w.deps.Adapter.Key(),
			Partition:  cursor.Partition().ID,
			Unit:       unit.Key(),
			Stored:     res.stored,
			Skipped:    res.skipped,
			Filled:     res.filled,
			Challenged: res.challenged,
			Dur:        dur,
		})
		logger.Info("unit complete",
			zap.String("unit", unit.Key()),
			zap.Int("stored", res.stored),
			zap.Int("skipped", res.skipped),
			zap.Bool("filled", res.filled),
			zap.Bool("challenged", res.challenged),
		)

		if w.deps.Guard != nil {
			if err := w.deps.Guard.UnitDone(ctx, res.challenged); err != nil {
				return stats, err
			}
		}
	}
}

// Close releases the worker's fetch session.
func (w *Worker) Close() error {
	if err := w.deps.Session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

type unitResult struct {
	started    time.Time
	stored     int
	duplicates int
	skipped    int
	filled     bool
	challenged bool
}

// processUnit captures items for unit until its quota fills or candidates
// run out. A non-nil error means the unit must not be checkpointed.
func (w *Worker) processUnit(ctx context.Context, unit crawler.WorkUnit, logger *zap.Logger) (unitResult, error) {
	res := unitResult{started: w.now()}
	logger = logger.With(zap.String("unit", unit.Key()))

	cands, err := w.deps.Lister.List(ctx, unit)
	if cands == nil {
		return res, fmt.Errorf("list %s: %w", unit, err)
	}
	if err != nil {
		logger.Warn("listing failed, completing unit as partial", zap.Error(err))
	}
	res.challenged = cands.Challenged()

	for {
		remaining, err := w.deps.Quota.Remaining(ctx, unit)
		if err != nil {
			return res, fmt.Errorf("read quota for %s: %w", unit, err)
		}
		if remaining <= 0 {
			res.filled = true
			return res, nil
		}
		link, ok := cands.Next()
		if !ok {
			return res, nil
		}

		item, out := w.fetchItem(ctx, link)
		if out.Challenged {
			res.challenged = true
		}
		switch out.Status {
		case recovery.StatusAborted:
			return res, out.Err
		case recovery.StatusSkip, recovery.StatusFatalSkip:
			res.skipped++
			continue
		}

		stored, err := w.deps.Sink.Append(ctx, item)
		if err != nil {
			return res, fmt.Errorf("append item from %s: %w", link.URL, err)
		}
		metrics.ObserveItem(w.deps.Adapter.Key(), !stored)
		if !stored {
			res.duplicates++
			logger.Debug("duplicate item ignored", zap.String("url", link.URL))
			continue
		}
		res.stored++
		count, err := w.deps.Quota.Increment(ctx, unit)
		if errors.Is(err, crawler.ErrQuotaExceeded) {
			res.filled = true
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("increment quota for %s: %w", unit, err)
		}
		logger.Debug("item stored", zap.String("url", link.URL), zap.Int("count", count))
	}
}

func (w *Worker) fetchItem(ctx context.Context, link crawler.CandidateLink) (crawler.Item, recovery.Outcome) {
	var item crawler.Item
	event := recovery.Event{Source: w.deps.Adapter.Key(), Unit: link.Unit, URL: link.URL}
	out := w.deps.Controller.Do(ctx, event, func(ctx context.Context) error {
		page, err := w.deps.Session.Fetch(ctx, crawler.FetchRequest{URL: link.URL, Unit: link.Unit})
		if err != nil {
			return err
		}
		metrics.ObserveFetch(w.deps.Adapter.Key(), page.StatusCode, len(page.Body))
		if w.deps.Detector != nil {
			if err := w.deps.Detector.Detect(page); err != nil {
				return err
			}
		}
		extracted, err := w.deps.Adapter.Extract(page)
		if err != nil {
			return err
		}
		item = extracted
		return nil
	})
	return item, out
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now()
	}
	return w.deps.Clock.Now()
}

func (w *Worker) since(t time.Time) time.Duration {
	return w.now().Sub(t)
}
