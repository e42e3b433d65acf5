// Package collyfetcher implements the plain HTTP page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int
}

// IdentitySource supplies the user agent and proxy for each request.
type IdentitySource interface {
	Current() crawler.Identity
}

// Fetcher implements crawler.Session over a Colly collector. Each worker
// owns one Fetcher; Restart drops its connections and cookies.
type Fetcher struct {
	cfg       Config
	identity  IdentitySource
	limiter   crawler.Limiter
	logger    *zap.Logger
	transport *http.Transport

	mu            sync.Mutex
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. identity and limiter may be nil.
func New(cfg Config, identity IdentitySource, limiter crawler.Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:       cfg,
		identity:  identity,
		limiter:   limiter,
		logger:    logger,
		transport: newHTTPTransport(identity),
	}
	f.baseCollector = f.newCollector()
	return f
}

func (f *Fetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(f.transport)
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	if jar, err := cookiejar.New(nil); err == nil {
		c.SetCookieJar(jar)
	}
	return c
}

// Fetch executes a single HTTP GET. HTTP error statuses are returned as a
// page, not an error, so the detector can classify them.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.Page{}, fmt.Errorf("politeness wait: %w", err)
		}
	}
	var (
		result   crawler.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	return result, nil
}

// Restart implements crawler.SessionRestarter.
func (f *Fetcher) Restart(_ context.Context) error {
	f.transport.CloseIdleConnections()
	f.mu.Lock()
	f.baseCollector = f.newCollector()
	f.mu.Unlock()
	f.logger.Info("http session restarted")
	return nil
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	f.mu.Lock()
	collector := f.baseCollector.Clone()
	f.mu.Unlock()
	if f.identity != nil {
		if ua := f.identity.Current().UserAgent; ua != "" {
			collector.UserAgent = ua
		}
	}
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Page{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err != nil {
			return classify(url, err)
		}
		return nil
	}
}

// classify maps transport failures onto the failure taxonomy.
func classify(url string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %v", crawler.ErrTimeout, url, err)
	default:
		return fmt.Errorf("%w: %s: %v", crawler.ErrNetwork, url, err)
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(identity IdentitySource) *http.Transport {
	proxy := http.ProxyFromEnvironment
	if pf, ok := identity.(interface {
		ProxyURL(*http.Request) (*url.URL, error)
	}); ok {
		proxy = func(req *http.Request) (*url.URL, error) {
			u, err := pf.ProxyURL(req)
			if err != nil || u != nil {
				return u, err
			}
			return http.ProxyFromEnvironment(req)
		}
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
