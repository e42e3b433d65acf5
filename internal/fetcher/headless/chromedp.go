// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready.
	SettleDelay time.Duration
	// ExecPath overrides the browser binary.
	ExecPath string
}

// IdentitySource supplies the user agent and proxy for the browser.
type IdentitySource interface {
	Current() crawler.Identity
}

// Fetcher implements crawler.Session using chromedp and headless Chrome.
// The browser process is started lazily and relaunched when the proxy of
// the current identity changes or Restart is called.
type Fetcher struct {
	cfg      Config
	identity IdentitySource
	logger   *zap.Logger
	limiter  chan struct{}

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	proxy       string
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, identity IdentitySource, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Fetcher{
		cfg:      cfg,
		identity: identity,
		logger:   logger,
		limiter:  limiter,
	}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownLocked()
	return nil
}

// Restart discards the browser so the next fetch launches a fresh one.
func (f *Fetcher) Restart(_ context.Context) error {
	f.mu.Lock()
	f.shutdownLocked()
	f.mu.Unlock()
	f.logger.Info("headless session restarted")
	return nil
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer f.release()

	id := f.currentIdentity()
	allocator := f.ensureAllocator(id.Proxy)

	taskCtx, taskCancel := chromedp.NewContext(allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's cancellation.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request, id.UserAgent)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return crawler.Page{}, fmt.Errorf("%w: %s: %v", crawler.ErrTimeout, request.URL, err)
		}
		return crawler.Page{}, fmt.Errorf("%w: %s: %v", crawler.ErrNetwork, request.URL, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	return crawler.Page{
		URL:          request.URL,
		FinalURL:     responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) currentIdentity() crawler.Identity {
	if f.identity == nil {
		return crawler.Identity{}
	}
	return f.identity.Current()
}

func (f *Fetcher) ensureAllocator(proxy string) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocator != nil && f.proxy == proxy {
		return f.allocator
	}
	f.shutdownLocked()
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), f.allocatorOptions(proxy)...)
	f.proxy = proxy
	return f.allocator
}

func (f *Fetcher) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

func (f *Fetcher) shutdownLocked() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
	f.allocator = nil
	f.allocCancel = nil
	f.proxy = ""
}

func (f *Fetcher) runHeadless(ctx context.Context, request crawler.FetchRequest, userAgent string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		networkSetupAction(request.Headers, userAgent),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func networkSetupAction(headers http.Header, userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}
