// Package dispatcher fans a crawl out over one worker per partition.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
	"github.com/JakeFAU/news-archive-harvester/internal/worker"
)

// Runner is a worker bound to one partition.
type Runner interface {
	Run(ctx context.Context, cursor *schedule.Cursor) (worker.Stats, error)
	Close() error
}

// WorkerFactory builds a fresh worker, with its own fetch session, for a
// partition. Sessions are never shared between partitions.
type WorkerFactory func(ctx context.Context, partition schedule.Partition) (Runner, error)

// Config controls fan-out.
type Config struct {
	Workers int
}

// Result is the outcome of one partition.
type Result struct {
	Partition   string
	Stats       worker.Stats
	Err         error
	Interrupted bool
}

// Report collects per-partition results in partition order.
type Report struct {
	Results []Result
}

// Err joins the fatal errors of every partition. Interrupted partitions are
// not errors: they resume from their checkpoint on the next run.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil && !res.Interrupted {
			errs = append(errs, fmt.Errorf("partition %s: %w", res.Partition, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Totals sums the stats of every partition.
func (r Report) Totals() worker.Stats {
	var total worker.Stats
	for _, res := range r.Results {
		total.Units += res.Stats.Units
		total.Partial += res.Stats.Partial
		total.Items += res.Stats.Items
		total.Duplicates += res.Stats.Duplicates
		total.Skipped += res.Stats.Skipped
	}
	return total
}

// Dispatcher runs one worker per partition of a scheduled range.
type Dispatcher struct {
	cfg       Config
	factory   WorkerFactory
	scheduler *schedule.Scheduler
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, factory WorkerFactory, scheduler *schedule.Scheduler, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	if factory == nil || scheduler == nil {
		return nil, errors.New("dispatcher: factory and scheduler are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, factory: factory, scheduler: scheduler, logger: logger}, nil
}

// Partitions returns the partitions Run will walk.
func (d *Dispatcher) Partitions() ([]schedule.Partition, error) {
	parts, err := d.scheduler.Partition(d.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("partition range: %w", err)
	}
	return parts, nil
}

// Run starts all workers and blocks until every one has returned. A failing
// worker does not stop its siblings.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	parts, err := d.Partitions()
	if err != nil {
		return Report{}, err
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	report := Report{Results: make([]Result, len(parts))}
	for i, p := range parts {
		report.Results[i].Partition = p.ID
		if p.Empty() {
			continue
		}
		g.Go(func() error {
			res := d.runPartition(ctx, p)
			mu.Lock()
			report.Results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (d *Dispatcher) runPartition(ctx context.Context, p schedule.Partition) Result {
	res := Result{Partition: p.ID}
	logger := d.logger.With(zap.String("partition", p.ID))

	cursor, err := d.scheduler.Cursor(ctx, p)
	if err != nil {
		res.Err = fmt.Errorf("open cursor: %w", err)
		logger.Error("cannot resume partition", zap.Error(err))
		return res
	}
	runner, err := d.factory(ctx, p)
	if err != nil {
		res.Err = fmt.Errorf("build worker: %w", err)
		logger.Error("cannot build worker", zap.Error(err))
		return res
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil {
			logger.Warn("worker close failed", zap.Error(cerr))
		}
	}()

	logger.Info("worker started", zap.String("first", p.First.Key()), zap.String("last", p.Last.Key()))
	res.Stats, res.Err = runner.Run(ctx, cursor)
	switch {
	case res.Err == nil:
	case ctx.Err() != nil && errors.Is(res.Err, ctx.Err()):
		res.Interrupted = true
		logger.Info("worker interrupted", zap.Error(res.Err))
	default:
		logger.Error("worker stopped", zap.Error(res.Err))
	}
	return res
}
