package lister

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Candidates is a lazy, finite, single-pass sequence of article links.
// Links are resolved, filtered, deduplicated and robots-checked as they
// are pulled.
type Candidates struct {
	unit       crawler.WorkUnit
	ctx        context.Context
	base       string
	raw        []string
	filter     crawler.LinkFilter
	robots     crawler.RobotsPolicy
	logger     *zap.Logger
	quota      crawler.QuotaTracker
	captured   int
	skipped    int
	pos        int
	challenged bool
	seen       map[string]struct{}
}

// Next returns the next candidate, or false once the listing is exhausted
// or the unit's quota is filled. Only captured items count against the
// quota, so skipped and duplicate candidates do not use up a slot.
func (c *Candidates) Next() (crawler.CandidateLink, bool) {
	if c == nil {
		return crawler.CandidateLink{}, false
	}
	for c.pos < len(c.raw) {
		if !c.quotaLeft() {
			c.pos = len(c.raw)
			break
		}
		href := c.raw[c.pos]
		c.pos++

		link, ok := c.accept(href)
		if !ok {
			continue
		}
		// Links already captured before a restart are not fetched again.
		if c.skipped < c.captured {
			c.skipped++
			continue
		}
		return crawler.CandidateLink{URL: link, Unit: c.unit}, true
	}
	return crawler.CandidateLink{}, false
}

// Challenged reports whether fetching the listing ran into a challenge.
func (c *Candidates) Challenged() bool {
	return c != nil && c.challenged
}

// Unit returns the unit the candidates belong to.
func (c *Candidates) Unit() crawler.WorkUnit {
	return c.unit
}

func (c *Candidates) quotaLeft() bool {
	if c.quota == nil {
		return true
	}
	remaining, err := c.quota.Remaining(c.ctx, c.unit)
	if err != nil {
		c.logger.Warn("quota unreadable, ending candidates", zap.String("unit", c.unit.Key()), zap.Error(err))
		return false
	}
	return remaining > 0
}

func (c *Candidates) accept(href string) (string, bool) {
	abs, err := crawler.ResolveURL(c.base, href)
	if err != nil {
		return "", false
	}
	if !c.filter.Accept(abs) {
		return "", false
	}
	key, err := crawler.NormalizeURL(abs)
	if err != nil {
		return "", false
	}
	if _, dup := c.seen[key]; dup {
		return "", false
	}
	c.seen[key] = struct{}{}
	if c.robots != nil && !c.robots.Allowed(c.ctx, abs) {
		c.logger.Debug("robots.txt disallows candidate", zap.String("url", abs))
		return "", false
	}
	return abs, true
}
