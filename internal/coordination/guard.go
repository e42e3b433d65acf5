// Package coordination serializes access to state shared by workers: an
// in-process guard around the output sink and quota tracker, and a Redis
// lease that keeps a second process off the same state directory.
package coordination

import (
	"context"
	"sync"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Guard is the single mutual-exclusion boundary for shared mutable stores.
type Guard struct {
	mu sync.Mutex
}

// NewGuard returns a Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Do runs fn while holding the guard.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Sink wraps s so every Append and Close runs under the guard.
func (g *Guard) Sink(s crawler.OutputSink) crawler.OutputSink {
	return &guardedSink{guard: g, sink: s}
}

// Quota wraps q so every read and increment runs under the guard.
func (g *Guard) Quota(q crawler.QuotaTracker) crawler.QuotaTracker {
	return &guardedQuota{guard: g, quota: q}
}

type guardedSink struct {
	guard *Guard
	sink  crawler.OutputSink
}

func (s *guardedSink) Append(ctx context.Context, item crawler.Item) (stored bool, err error) {
	err = s.guard.Do(func() error {
		stored, err = s.sink.Append(ctx, item)
		return err
	})
	return stored, err
}

func (s *guardedSink) Close() error {
	return s.guard.Do(s.sink.Close)
}

type guardedQuota struct {
	guard *Guard
	quota crawler.QuotaTracker
}

func (q *guardedQuota) Cap() int { return q.quota.Cap() }

func (q *guardedQuota) Get(ctx context.Context, unit crawler.WorkUnit) (n int, err error) {
	err = q.guard.Do(func() error {
		n, err = q.quota.Get(ctx, unit)
		return err
	})
	return n, err
}

func (q *guardedQuota) Remaining(ctx context.Context, unit crawler.WorkUnit) (n int, err error) {
	err = q.guard.Do(func() error {
		n, err = q.quota.Remaining(ctx, unit)
		return err
	})
	return n, err
}

func (q *guardedQuota) Increment(ctx context.Context, unit crawler.WorkUnit) (n int, err error) {
	err = q.guard.Do(func() error {
		n, err = q.quota.Increment(ctx, unit)
		return err
	})
	return n, err
}
