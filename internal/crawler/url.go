package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ResolveURL resolves href against base and returns an absolute URL.
func ResolveURL(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// LinkFilter decides which listing links are article candidates.
type LinkFilter struct {
	// Include tokens: a link must contain at least one. Empty accepts all.
	Include []string
	// Exclude tokens: a link must contain none.
	Exclude []string
	// Host is the canonical host links must belong to.
	Host string
	// SkipFirst drops that many leading listing entries before filtering.
	SkipFirst int
	// PathPattern, when set, must match the URL path.
	PathPattern *regexp.Regexp
}

// Accept reports whether an absolute link passes the filter.
func (f LinkFilter) Accept(link string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return false
	}
	if f.Host != "" && !strings.EqualFold(u.Hostname(), f.Host) {
		return false
	}
	if f.PathPattern != nil && !f.PathPattern.MatchString(u.Path) {
		return false
	}
	for _, token := range f.Exclude {
		if token != "" && strings.Contains(link, token) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, token := range f.Include {
		if token != "" && strings.Contains(link, token) {
			return true
		}
	}
	return false
}
