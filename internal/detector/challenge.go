// Package detector inspects fetched pages: it recognizes verification and
// block pages, and decides when a plain HTTP fetch needs a browser.
package detector

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Config tunes the challenge detector.
type Config struct {
	// ChallengeStatuses are HTTP statuses treated as blocks.
	ChallengeStatuses []int
	// Selectors that only appear on verification pages.
	Selectors []string
	// Keywords matched case-insensitively against the body.
	Keywords []string
}

// DefaultConfig returns markers for the captcha and bot-wall vendors seen on
// the supported publishers.
func DefaultConfig() Config {
	return Config{
		ChallengeStatuses: []int{http.StatusForbidden, http.StatusTooManyRequests},
		Selectors: []string{
			`iframe[src*="captcha-delivery.com"]`,
			`iframe[src*="hcaptcha.com"]`,
			"#challenge-form",
			"#px-captcha",
			"div.g-recaptcha",
		},
		Keywords: []string{
			"captcha-delivery.com",
			"cf-browser-verification",
			"please enable js and disable any ad blocker",
			"verify you are a human",
		},
	}
}

// Challenge classifies a fetched page before it reaches the adapter.
type Challenge struct {
	statuses  map[int]struct{}
	selectors []string
	keywords  [][]byte
}

// NewChallenge builds a detector from cfg.
func NewChallenge(cfg Config) *Challenge {
	statuses := make(map[int]struct{}, len(cfg.ChallengeStatuses))
	for _, code := range cfg.ChallengeStatuses {
		statuses[code] = struct{}{}
	}
	keywords := make([][]byte, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, bytes.ToLower([]byte(kw)))
	}
	return &Challenge{statuses: statuses, selectors: cfg.Selectors, keywords: keywords}
}

// Detect implements crawler.Detector. Block statuses and verification markup
// map to ErrChallenge, 5xx to ErrNetwork, and 404/410 to ErrStructural.
func (d *Challenge) Detect(page crawler.Page) error {
	if d == nil {
		return nil
	}
	if _, blocked := d.statuses[page.StatusCode]; blocked {
		return crawler.Challengef("status %d from %s", page.StatusCode, page.URL)
	}
	switch {
	case page.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d from %s", crawler.ErrNetwork, page.StatusCode, page.URL)
	case page.StatusCode == http.StatusNotFound || page.StatusCode == http.StatusGone:
		return crawler.Structuralf("status %d from %s", page.StatusCode, page.URL)
	}
	if d.containsKeywords(page.Body) || d.matchesSelectors(page.Body) {
		return crawler.Challengef("verification page at %s", page.URL)
	}
	return nil
}

func (d *Challenge) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Challenge) matchesSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
