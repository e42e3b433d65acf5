// Package status summarizes crawl progress from persisted checkpoints and
// quota counts.
package status

import (
	"context"
	"fmt"

	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
)

// QuotaSnapshotter exposes a copy of the quota table.
type QuotaSnapshotter interface {
	Cap() int
	Snapshot() map[string]int
}

// UnitCount is a completed unit whose quota was not filled.
type UnitCount struct {
	Unit  string `json:"unit"`
	Count int    `json:"count"`
}

// Report is the progress summary served by the API and the status command.
type Report struct {
	Source     string                       `json:"source"`
	Cap        int                          `json:"cap"`
	Partitions []schedule.PartitionProgress `json:"partitions"`
	Completed  int                          `json:"completed"`
	Total      int                          `json:"total"`
	Items      int                          `json:"items"`
	// BelowCap lists completed units that finished with fewer than Cap
	// items, in ascending order.
	BelowCap []UnitCount `json:"below_cap"`
}

// Build assembles a Report for source with workers partitions.
func Build(ctx context.Context, source string, sched *schedule.Scheduler, workers int, quota QuotaSnapshotter) (Report, error) {
	parts, err := sched.Partition(workers)
	if err != nil {
		return Report{}, fmt.Errorf("partition range: %w", err)
	}
	progress, err := sched.Progress(ctx, parts)
	if err != nil {
		return Report{}, fmt.Errorf("read progress: %w", err)
	}

	counts := quota.Snapshot()
	limit := quota.Cap()
	rep := Report{Source: source, Cap: limit, Partitions: progress, BelowCap: []UnitCount{}}
	for _, n := range counts {
		rep.Items += n
	}

	rng := sched.Range()
	for i, p := range progress {
		rep.Completed += p.Completed
		rep.Total += p.Total
		if p.Completed == 0 {
			continue
		}
		u := parts[i].First
		for seen := 0; seen < p.Completed; seen++ {
			if n := counts[u.Key()]; n < limit {
				rep.BelowCap = append(rep.BelowCap, UnitCount{Unit: u.Key(), Count: n})
			}
			next, ok := rng.Next(u)
			if !ok {
				break
			}
			u = next
		}
	}
	return rep, nil
}
