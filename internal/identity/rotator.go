// Package identity rotates the network identity (proxy and user agent) a
// worker presents to publishers.
package identity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Config lists the identities a rotator can choose from.
type Config struct {
	Proxies    []string
	UserAgents []string
	// Command, when set, runs on every rotation (for example a script that
	// cycles a mobile uplink to obtain a new address).
	Command []string
}

// Rotator hands out proxies round-robin and user agents at random.
type Rotator struct {
	proxies    []string
	userAgents []string
	command    []string
	logger     *zap.Logger
	run        func(ctx context.Context, name string, args ...string) error

	mu         sync.RWMutex
	proxyIndex int
	current    crawler.Identity
	rotations  int
}

// New builds a Rotator. offset staggers the starting proxy so parallel
// workers do not share one.
func New(cfg Config, offset int, logger *zap.Logger) (*Rotator, error) {
	for _, p := range cfg.Proxies {
		if _, err := url.Parse(p); err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", p, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	r := &Rotator{
		proxies:    append([]string(nil), cfg.Proxies...),
		userAgents: uniqueAgents(agents),
		command:    cfg.Command,
		logger:     logger,
		run:        runCommand,
	}
	if len(r.proxies) > 0 {
		r.proxyIndex = ((offset % len(r.proxies)) + len(r.proxies)) % len(r.proxies)
		r.current.Proxy = r.proxies[r.proxyIndex]
	}
	r.current.UserAgent = r.userAgents[rand.IntN(len(r.userAgents))]
	return r, nil
}

// Current implements crawler.IdentityRotator.
func (r *Rotator) Current() crawler.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Rotations returns how many times the identity changed.
func (r *Rotator) Rotations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rotations
}

// Rotate implements crawler.IdentityRotator: it moves to the next proxy,
// draws a different user agent and runs the rotation command if any.
func (r *Rotator) Rotate(ctx context.Context) error {
	if len(r.command) > 0 {
		if err := r.run(ctx, r.command[0], r.command[1:]...); err != nil {
			return fmt.Errorf("rotation command: %w", err)
		}
	}

	r.mu.Lock()
	if len(r.proxies) > 0 {
		r.proxyIndex = (r.proxyIndex + 1) % len(r.proxies)
		r.current.Proxy = r.proxies[r.proxyIndex]
	}
	r.current.UserAgent = r.pickUserAgentLocked()
	r.rotations++
	next := r.current
	r.mu.Unlock()

	r.logger.Info("rotated network identity",
		zap.String("proxy", redact(next.Proxy)),
		zap.String("user_agent", next.UserAgent))
	return nil
}

func (r *Rotator) pickUserAgentLocked() string {
	others := make([]string, 0, len(r.userAgents))
	for _, ua := range r.userAgents {
		if ua != r.current.UserAgent {
			others = append(others, ua)
		}
	}
	if len(others) == 0 {
		return r.current.UserAgent
	}
	return others[rand.IntN(len(others))]
}

func uniqueAgents(agents []string) []string {
	seen := make(map[string]struct{}, len(agents))
	out := make([]string, 0, len(agents))
	for _, ua := range agents {
		if _, dup := seen[ua]; dup {
			continue
		}
		seen[ua] = struct{}{}
		out = append(out, ua)
	}
	return out
}

// ProxyURL matches http.Transport.Proxy and colly's SetProxyFunc.
func (r *Rotator) ProxyURL(_ *http.Request) (*url.URL, error) {
	proxy := r.Current().Proxy
	if proxy == "" {
		return nil, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	return u, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- the rotation command comes from operator configuration.
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// redact drops credentials from a proxy URL for logging.
func redact(proxy string) string {
	u, err := url.Parse(proxy)
	if err != nil || u.User == nil {
		return proxy
	}
	u.User = url.User("redacted")
	return u.String()
}
