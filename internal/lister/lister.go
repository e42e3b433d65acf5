// Package lister turns an archive listing page into the bounded sequence of
// article candidates for one work unit.
package lister

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/metrics"
	"github.com/JakeFAU/news-archive-harvester/internal/recovery"
)

// Lister fetches listing pages for a single source.
type Lister struct {
	fetcher    crawler.PageFetcher
	adapter    crawler.Adapter
	quota      crawler.QuotaTracker
	robots     crawler.RobotsPolicy
	controller *recovery.Controller
	detector   crawler.Detector
	logger     *zap.Logger
}

// Option customizes a Lister.
type Option func(*Lister)

// WithController routes listing fetches through a worker's recovery controller.
func WithController(c *recovery.Controller) Option {
	return func(l *Lister) { l.controller = c }
}

// WithDetector inspects listing pages for block pages before parsing.
func WithDetector(d crawler.Detector) Option {
	return func(l *Lister) { l.detector = d }
}

// New builds a Lister. robots may be nil to allow everything.
func New(
	fetcher crawler.PageFetcher,
	adapter crawler.Adapter,
	quota crawler.QuotaTracker,
	robots crawler.RobotsPolicy,
	logger *zap.Logger,
	opts ...Option,
) (*Lister, error) {
	if fetcher == nil {
		return nil, errors.New("lister: fetcher is required")
	}
	if adapter == nil {
		return nil, errors.New("lister: adapter is required")
	}
	if quota == nil {
		return nil, errors.New("lister: quota tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lister{
		fetcher: fetcher,
		adapter: adapter,
		quota:   quota,
		robots:  robots,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.controller == nil {
		l.controller = recovery.NewController(recovery.Config{}, nil, logger)
	}
	return l, nil
}

// List fetches the unit's listing page and returns its candidates. The
// sequence ends once the unit's quota is filled. Listing order is stable,
// so the first accepted links already counted against the unit's quota are
// passed over rather than fetched again.
//
// When the listing cannot be fetched after recovery, List returns empty
// candidates together with the *crawler.FailureError so the caller can
// complete the unit as partial. Context cancellation returns a nil sequence.
func (l *Lister) List(ctx context.Context, unit crawler.WorkUnit) (*Candidates, error) {
	remaining, err := l.quota.Remaining(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("read quota for %s: %w", unit, err)
	}
	if remaining <= 0 {
		return &Candidates{unit: unit}, nil
	}
	captured, err := l.quota.Get(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("read quota for %s: %w", unit, err)
	}

	listingURL := l.adapter.ListingURL(unit)
	var (
		links []string
		base  string
	)
	out := l.controller.Do(ctx, recovery.Event{Source: l.adapter.Key(), Unit: unit, URL: listingURL}, func(ctx context.Context) error {
		page, err := l.fetcher.Fetch(ctx, crawler.FetchRequest{URL: listingURL, Unit: unit})
		if err != nil {
			return err
		}
		metrics.ObserveFetch(l.adapter.Key(), page.StatusCode, len(page.Body))
		if l.detector != nil {
			if err := l.detector.Detect(page); err != nil {
				return err
			}
		}
		found, err := l.adapter.ListingLinks(page)
		if err != nil {
			return err
		}
		links = found
		base = page.FinalURL
		if base == "" {
			base = listingURL
		}
		return nil
	})

	cands := &Candidates{
		unit:       unit,
		ctx:        ctx,
		filter:     l.adapter.Filter(),
		robots:     l.robots,
		logger:     l.logger,
		quota:      l.quota,
		captured:   captured,
		challenged: out.Challenged,
		seen:       make(map[string]struct{}),
	}
	switch out.Status {
	case recovery.StatusSuccess:
	case recovery.StatusAborted:
		return nil, out.Err
	default:
		l.logger.Warn("listing unavailable, unit has no candidates",
			zap.String("unit", unit.Key()),
			zap.String("url", listingURL),
			zap.Stringer("outcome", out.Status),
			zap.Error(out.Err),
		)
		return cands, out.Err
	}

	skip := cands.filter.SkipFirst
	if skip > len(links) {
		skip = len(links)
	}
	cands.raw = links[skip:]
	cands.base = base
	l.logger.Debug("listing parsed",
		zap.String("unit", unit.Key()),
		zap.Int("links", len(links)),
		zap.Int("remaining_quota", remaining),
		zap.Int("already_captured", captured),
	)
	return cands, nil
}
