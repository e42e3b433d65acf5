package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/checkpoint"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/local"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayRange(start, end time.Time) crawler.Range {
	return crawler.Range{Start: start, End: end, Granularity: crawler.GranularityDay}
}

func drain(t *testing.T, cur *Cursor) []string {
	t.Helper()
	ctx := context.Background()
	var keys []string
	for {
		unit, ok := cur.Next()
		if !ok {
			return keys
		}
		keys = append(keys, unit.Key())
		require.NoError(t, cur.Complete(ctx, unit))
	}
}

func TestPartitionCoversRangeWithoutOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rng  crawler.Range
		n    int
	}{
		{name: "even", rng: dayRange(date(2015, 1, 1), date(2015, 1, 10)), n: 2},
		{name: "uneven", rng: dayRange(date(2015, 1, 1), date(2015, 1, 10)), n: 3},
		{name: "single", rng: dayRange(date(2015, 1, 1), date(2015, 3, 31)), n: 1},
		{name: "leap year", rng: dayRange(date(2016, 2, 27), date(2016, 3, 2)), n: 4},
		{
			name: "month pages",
			rng: crawler.Range{
				Start: date(2016, 1, 1), End: date(2016, 2, 28),
				Granularity: crawler.GranularityMonthPage, PagesPerMonth: 5,
			},
			n: 3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sched, err := New(tc.rng, checkpoint.NewMemory())
			require.NoError(t, err)
			parts, err := sched.Partition(tc.n)
			require.NoError(t, err)
			require.Len(t, parts, tc.n)

			var all []string
			for _, p := range parts {
				cur, err := sched.Cursor(context.Background(), p)
				require.NoError(t, err)
				units := drain(t, cur)
				assert.Len(t, units, p.Size)
				all = append(all, units...)
			}

			var want []string
			for u, ok := tc.rng.First(), true; ok; u, ok = tc.rng.Next(u) {
				want = append(want, u.Key())
			}
			assert.Equal(t, want, all, "partitions must be contiguous, disjoint and cover the range in order")
		})
	}
}

func TestPartitionMoreWorkersThanUnits(t *testing.T) {
	t.Parallel()

	sched, err := New(dayRange(date(2015, 1, 1), date(2015, 1, 2)), checkpoint.NewMemory())
	require.NoError(t, err)
	parts, err := sched.Partition(4)
	require.NoError(t, err)

	assert.Equal(t, 1, parts[0].Size)
	assert.Equal(t, 1, parts[1].Size)
	assert.True(t, parts[2].Empty())
	assert.True(t, parts[3].Empty())

	cur, err := sched.Cursor(context.Background(), parts[3])
	require.NoError(t, err)
	_, ok := cur.Next()
	assert.False(t, ok)
}

func TestPartitionRejectsZero(t *testing.T) {
	t.Parallel()

	sched, err := New(dayRange(date(2015, 1, 1), date(2015, 1, 2)), checkpoint.NewMemory())
	require.NoError(t, err)
	_, err = sched.Partition(0)
	assert.Error(t, err)
}

func TestCursorResumesAfterCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := checkpoint.NewMemory()
	sched, err := New(dayRange(date(2015, 1, 1), date(2015, 1, 5)), store)
	require.NoError(t, err)
	parts, err := sched.Partition(1)
	require.NoError(t, err)

	first, err := sched.Cursor(ctx, parts[0])
	require.NoError(t, err)
	for range 2 {
		unit, ok := first.Next()
		require.True(t, ok)
		require.NoError(t, first.Complete(ctx, unit))
	}

	resumed, err := sched.Cursor(ctx, parts[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"2015-01-03", "2015-01-04", "2015-01-05"}, drain(t, resumed))

	progress, err := sched.Progress(ctx, parts)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 5, progress[0].Completed)
	assert.True(t, progress[0].Finished)
}

func TestCursorCompleteRequiresCurrentUnit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sched, err := New(dayRange(date(2015, 1, 1), date(2015, 1, 5)), checkpoint.NewMemory())
	require.NoError(t, err)
	parts, err := sched.Partition(1)
	require.NoError(t, err)
	cur, err := sched.Cursor(ctx, parts[0])
	require.NoError(t, err)

	err = cur.Complete(ctx, crawler.NewDayUnit(date(2015, 1, 3)))
	assert.Error(t, err, "units cannot be skipped")
}

func TestCursorRejectsForeignCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := checkpoint.NewMemory()
	sched, err := New(dayRange(date(2015, 1, 1), date(2015, 1, 10)), store)
	require.NoError(t, err)
	parts, err := sched.Partition(2)
	require.NoError(t, err)

	require.NoError(t, store.Advance(ctx, parts[0].ID, crawler.NewDayUnit(date(2015, 1, 9))))
	_, err = sched.Cursor(ctx, parts[0])
	require.ErrorIs(t, err, crawler.ErrCheckpointCorruption)
}

func TestCursorRejectsCheckpointOutsideRangeUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := checkpoint.NewMemory()
	rng := crawler.Range{Start: date(2015, 1, 1), End: date(2015, 2, 1), Granularity: crawler.GranularityMonthPage, PagesPerMonth: 49}
	sched, err := New(rng, store)
	require.NoError(t, err)
	parts, err := sched.Partition(1)
	require.NoError(t, err)

	// Orders between 2015-01-01#1 and 2015-02-01#49 but is a day, not a page.
	require.NoError(t, store.Advance(ctx, parts[0].ID, crawler.NewDayUnit(date(2015, 1, 5))))
	_, err = sched.Cursor(ctx, parts[0])
	require.ErrorIs(t, err, crawler.ErrCheckpointCorruption)
}

func TestCursorResumesFromLegacyPageCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpoint.FileName("lesechos", "p0of1")), []byte("2015,1,5\n"), 0o600))
	files, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	store, err := checkpoint.NewFileStore(files, "lesechos", checkpoint.WithGranularity(crawler.GranularityMonthPage))
	require.NoError(t, err)

	rng := crawler.Range{Start: date(2015, 1, 1), End: date(2015, 2, 1), Granularity: crawler.GranularityMonthPage, PagesPerMonth: 49}
	sched, err := New(rng, store)
	require.NoError(t, err)
	parts, err := sched.Partition(1)
	require.NoError(t, err)
	cur, err := sched.Cursor(ctx, parts[0])
	require.NoError(t, err)

	next, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "2015-01-01#6", next.Key())
}

func TestNewValidatesRange(t *testing.T) {
	t.Parallel()

	_, err := New(dayRange(date(2015, 1, 5), date(2015, 1, 1)), checkpoint.NewMemory())
	assert.Error(t, err)
	_, err = New(dayRange(date(2015, 1, 1), date(2015, 1, 5)), nil)
	assert.Error(t, err)
}
