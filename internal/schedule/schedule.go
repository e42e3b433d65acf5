// Package schedule splits a crawl range into partitions and walks each one
// in ascending order, resuming from persisted checkpoints.
package schedule

import (
	"context"
	"fmt"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Partition is a contiguous slice of the crawl range owned by one worker.
type Partition struct {
	ID    string
	Index int
	First crawler.WorkUnit
	Last  crawler.WorkUnit
	Size  int
}

// Empty reports whether the partition holds no units.
func (p Partition) Empty() bool {
	return p.Size == 0
}

// Contains reports whether unit belongs to the partition.
func (p Partition) Contains(unit crawler.WorkUnit) bool {
	if p.Empty() {
		return false
	}
	return !unit.Before(p.First) && !p.Last.Before(unit)
}

// Scheduler hands out work units for a range.
type Scheduler struct {
	rng   crawler.Range
	store crawler.CheckpointStore
}

// New builds a Scheduler over rng backed by store.
func New(rng crawler.Range, store crawler.CheckpointStore) (*Scheduler, error) {
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	return &Scheduler{rng: rng, store: store}, nil
}

// Range returns the range being scheduled.
func (s *Scheduler) Range() crawler.Range {
	return s.rng
}

// Partition splits the range into n contiguous, non-overlapping partitions
// whose union is the whole range. Sizes differ by at most one; when the range
// is shorter than n the trailing partitions are empty.
func (s *Scheduler) Partition(n int) ([]Partition, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition count must be >= 1, got %d", n)
	}
	total := s.rng.Len()
	base, extra := total/n, total%n

	parts := make([]Partition, n)
	next, more := s.rng.First(), true
	for i := range n {
		size := base
		if i < extra {
			size++
		}
		parts[i] = Partition{ID: fmt.Sprintf("p%dof%d", i, n), Index: i, Size: size}
		if size == 0 || !more {
			parts[i].Size = 0
			continue
		}
		parts[i].First = next
		last := next
		for step := 1; step < size; step++ {
			last, _ = s.rng.Next(last)
		}
		parts[i].Last = last
		next, more = s.rng.Next(last)
	}
	return parts, nil
}

// Cursor positions a cursor just after the partition's checkpoint.
func (s *Scheduler) Cursor(ctx context.Context, p Partition) (*Cursor, error) {
	last, ok, err := s.store.Read(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", p.ID, err)
	}
	if ok && !p.Contains(last) {
		return nil, fmt.Errorf("%w: partition %s checkpoint %s outside [%s, %s]",
			crawler.ErrCheckpointCorruption, p.ID, last, p.First, p.Last)
	}
	// Ordering alone would accept 2015-01-05 inside a month_page partition
	// and walk units that do not exist.
	if ok && !s.rng.Contains(last) {
		return nil, fmt.Errorf("%w: partition %s checkpoint %s is not a unit of the range",
			crawler.ErrCheckpointCorruption, p.ID, last)
	}
	return &Cursor{
		rng:       s.rng,
		store:     s.store,
		partition: p,
		last:      last,
		hasLast:   ok,
	}, nil
}

// Progress reports how far every partition has advanced.
func (s *Scheduler) Progress(ctx context.Context, parts []Partition) ([]PartitionProgress, error) {
	out := make([]PartitionProgress, 0, len(parts))
	for _, p := range parts {
		cur, err := s.Cursor(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, cur.Progress())
	}
	return out, nil
}

// PartitionProgress summarizes one partition.
type PartitionProgress struct {
	Partition  string `json:"partition"`
	First      string `json:"first,omitempty"`
	Last       string `json:"last,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	Finished   bool   `json:"finished"`
}

// Cursor walks one partition in strictly ascending order.
type Cursor struct {
	rng       crawler.Range
	store     crawler.CheckpointStore
	partition Partition

	last    crawler.WorkUnit
	hasLast bool
}

// Partition returns the partition being walked.
func (c *Cursor) Partition() Partition {
	return c.partition
}

// Next returns the first unit strictly after the last checkpoint, or false
// when the partition is exhausted.
func (c *Cursor) Next() (crawler.WorkUnit, bool) {
	if c.partition.Empty() {
		return crawler.WorkUnit{}, false
	}
	if !c.hasLast {
		return c.partition.First, true
	}
	next, ok := c.rng.Next(c.last)
	if !ok || c.partition.Last.Before(next) {
		return crawler.WorkUnit{}, false
	}
	return next, true
}

// Complete advances the checkpoint to unit, which must be the unit Next
// currently returns.
func (c *Cursor) Complete(ctx context.Context, unit crawler.WorkUnit) error {
	expected, ok := c.Next()
	if !ok || !expected.Equal(unit) {
		return fmt.Errorf("complete %s: expected %s", unit, expected)
	}
	if err := c.store.Advance(ctx, c.partition.ID, unit); err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", c.partition.ID, err)
	}
	c.last, c.hasLast = unit, true
	return nil
}

// Progress summarizes the cursor position.
func (c *Cursor) Progress() PartitionProgress {
	p := PartitionProgress{Partition: c.partition.ID, Total: c.partition.Size}
	if c.partition.Empty() {
		p.Finished = true
		return p
	}
	p.First, p.Last = c.partition.First.Key(), c.partition.Last.Key()
	if c.hasLast {
		p.Checkpoint = c.last.Key()
		for u, ok := c.partition.First, true; ok && !c.last.Before(u); u, ok = c.rng.Next(u) {
			p.Completed++
		}
	}
	p.Finished = p.Completed == p.Total
	return p
}
