// Package fetcher combines the HTTP and headless sessions into the page
// fetcher a worker uses.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Promoter decides whether a plain HTTP response needs a browser render.
type Promoter interface {
	ShouldPromote(page crawler.Page) bool
}

// Options configure a Promoting session.
type Options struct {
	// AlwaysHeadless skips the HTTP attempt entirely.
	AlwaysHeadless bool
	Promoter       Promoter
	Logger         *zap.Logger
}

// Promoting fetches over HTTP first and re-fetches with the headless
// session when the promoter flags the response.
type Promoting struct {
	http     crawler.Session
	headless crawler.Session
	opts     Options
}

// NewPromoting wires the sessions. headless may be nil, in which case
// promotion is disabled.
func NewPromoting(httpSession, headlessSession crawler.Session, opts Options) (*Promoting, error) {
	if httpSession == nil && headlessSession == nil {
		return nil, errors.New("at least one fetch session is required")
	}
	if opts.AlwaysHeadless && headlessSession == nil {
		return nil, errors.New("always-headless requires a headless session")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Promoting{http: httpSession, headless: headlessSession, opts: opts}, nil
}

// Fetch implements crawler.PageFetcher.
func (p *Promoting) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if p.opts.AlwaysHeadless || p.http == nil {
		return p.headless.Fetch(ctx, request)
	}
	page, err := p.http.Fetch(ctx, request)
	if err != nil {
		return crawler.Page{}, err
	}
	if p.headless == nil || p.opts.Promoter == nil || !p.opts.Promoter.ShouldPromote(page) {
		return page, nil
	}
	p.opts.Logger.Debug("promoting fetch to headless",
		zap.String("url", request.URL),
		zap.Int("status", page.StatusCode),
	)
	rendered, err := p.headless.Fetch(ctx, request)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("headless promotion: %w", err)
	}
	return rendered, nil
}

// Restart restarts every configured session.
func (p *Promoting) Restart(ctx context.Context) error {
	var errs []error
	for _, s := range p.sessions() {
		if err := s.Restart(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every configured session.
func (p *Promoting) Close() error {
	var errs []error
	for _, s := range p.sessions() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Promoting) sessions() []crawler.Session {
	out := make([]crawler.Session, 0, 2)
	if p.http != nil {
		out = append(out, p.http)
	}
	if p.headless != nil {
		out = append(out, p.headless)
	}
	return out
}
