package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/checkpoint"
	"github.com/JakeFAU/news-archive-harvester/internal/worker"
)

// walkRunner completes every unit of its cursor, or fails on failAt.
type walkRunner struct {
	failAt string
	closed *sync.Map
	id     string
	block  bool
}

func (r *walkRunner) Run(ctx context.Context, cursor *schedule.Cursor) (worker.Stats, error) {
	var stats worker.Stats
	if r.block {
		<-ctx.Done()
		return stats, ctx.Err()
	}
	for {
		unit, ok := cursor.Next()
		if !ok {
			return stats, nil
		}
		if unit.Key() == r.failAt {
			return stats, crawler.ErrSessionBudgetExhausted
		}
		if err := cursor.Complete(ctx, unit); err != nil {
			return stats, err
		}
		stats.Units++
	}
}

func (r *walkRunner) Close() error {
	r.closed.Store(r.id, true)
	return nil
}

func newScheduler(t *testing.T, days int, store crawler.CheckpointStore) *schedule.Scheduler {
	t.Helper()
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, err := schedule.New(crawler.Range{
		Start:       start,
		End:         start.AddDate(0, 0, days-1),
		Granularity: crawler.GranularityDay,
	}, store)
	require.NoError(t, err)
	return sched
}

func TestRunWalksEveryPartition(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemory()
	closed := &sync.Map{}
	d, err := New(Config{Workers: 3}, func(_ context.Context, p schedule.Partition) (Runner, error) {
		return &walkRunner{closed: closed, id: p.ID}, nil
	}, newScheduler(t, 10, store), zap.NewNop())
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 3)
	assert.Equal(t, 10, report.Totals().Units)

	for _, res := range report.Results {
		_, ok := closed.Load(res.Partition)
		assert.True(t, ok, "worker for %s closed", res.Partition)
	}
}

func TestRunIsolatesWorkerFailure(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemory()
	d, err := New(Config{Workers: 2}, func(_ context.Context, p schedule.Partition) (Runner, error) {
		return &walkRunner{closed: &sync.Map{}, id: p.ID, failAt: "2015-01-02"}, nil
	}, newScheduler(t, 6, store), zap.NewNop())
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, report.Err(), crawler.ErrSessionBudgetExhausted)

	failed, healthy := report.Results[0], report.Results[1]
	assert.Equal(t, 1, failed.Stats.Units)
	assert.Equal(t, 3, healthy.Stats.Units)
	assert.NoError(t, healthy.Err)

	last, ok, err := store.Read(context.Background(), failed.Partition)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2015-01-01", last.Key(), "failed partition checkpoint stays put")
}

func TestRunFactoryErrorIsReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("no browser")
	d, err := New(Config{Workers: 2}, func(_ context.Context, p schedule.Partition) (Runner, error) {
		if p.Index == 0 {
			return nil, boom
		}
		return &walkRunner{closed: &sync.Map{}, id: p.ID}, nil
	}, newScheduler(t, 4, checkpoint.NewMemory()), zap.NewNop())
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, report.Err(), boom)
	assert.Equal(t, 2, report.Results[1].Stats.Units)
}

func TestRunCancellationIsNotAnError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	d, err := New(Config{Workers: 2}, func(_ context.Context, p schedule.Partition) (Runner, error) {
		started <- struct{}{}
		return &walkRunner{closed: &sync.Map{}, id: p.ID, block: true}, nil
	}, newScheduler(t, 4, checkpoint.NewMemory()), zap.NewNop())
	require.NoError(t, err)

	done := make(chan Report, 1)
	go func() {
		report, _ := d.Run(ctx)
		done <- report
	}()
	<-started
	<-started
	cancel()

	select {
	case report := <-done:
		assert.NoError(t, report.Err())
		for _, res := range report.Results {
			assert.True(t, res.Interrupted)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestRunSkipsEmptyPartitions(t *testing.T) {
	t.Parallel()

	var built sync.Map
	d, err := New(Config{Workers: 4}, func(_ context.Context, p schedule.Partition) (Runner, error) {
		built.Store(p.ID, true)
		return &walkRunner{closed: &sync.Map{}, id: p.ID}, nil
	}, newScheduler(t, 2, checkpoint.NewMemory()), zap.NewNop())
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Results, 4)
	assert.Equal(t, 2, report.Totals().Units)
	count := 0
	built.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 2, count)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	sched := newScheduler(t, 1, checkpoint.NewMemory())
	_, err := New(Config{Workers: 0}, func(context.Context, schedule.Partition) (Runner, error) { return nil, nil }, sched, nil)
	assert.Error(t, err)
	_, err = New(Config{Workers: 1}, nil, sched, nil)
	assert.Error(t, err)
}
