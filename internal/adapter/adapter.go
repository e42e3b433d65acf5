// Package adapter holds the per-publisher archive layouts and article
// extraction rules. Each source registers itself by key; the engine selects
// one from configuration and never branches on the source itself.
package adapter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() crawler.Adapter{}
)

// Register makes an adapter constructor available under key.
func Register(key string, build func() crawler.Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = build
}

// Lookup builds the adapter registered under key.
func Lookup(key string) (crawler.Adapter, error) {
	registryMu.RLock()
	build, ok := registry[strings.ToLower(strings.TrimSpace(key))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	return build(), nil
}

// Keys lists registered source keys in sorted order.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HeadlessPreferrer is implemented by adapters whose listings only render
// with JavaScript.
type HeadlessPreferrer interface {
	PreferHeadless() bool
}

// PrefersHeadless reports whether a should be fetched with a browser.
func PrefersHeadless(a crawler.Adapter) bool {
	hp, ok := a.(HeadlessPreferrer)
	return ok && hp.PreferHeadless()
}

// base carries the static description shared by every source.
type base struct {
	name        string
	key         string
	host        string
	granularity crawler.Granularity
	filter      crawler.LinkFilter
}

func (b base) Name() string                     { return b.name }
func (b base) Key() string                      { return b.key }
func (b base) Host() string                     { return b.host }
func (b base) Granularity() crawler.Granularity { return b.granularity }
func (b base) Filter() crawler.LinkFilter       { return b.filter }
func (b base) item(title, date, desc, body string) crawler.Item {
	return crawler.Item{Source: b.name, Title: title, PublishedDate: date, Description: desc, Body: body}
}

func document(page crawler.Page) (*goquery.Document, error) {
	if len(page.Body) == 0 {
		return nil, crawler.Structuralf("empty document from %s", page.URL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, crawler.Structuralf("parse %s: %v", page.URL, err)
	}
	return doc, nil
}

// firstLinks returns the href of the first anchor inside every element of sel.
func firstLinks(sel *goquery.Selection) []string {
	var links []string
	sel.Each(func(_ int, s *goquery.Selection) {
		anchor := s
		if goquery.NodeName(s) != "a" {
			anchor = s.Find("a").First()
		}
		if href, ok := anchor.Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}

// unwrapInline replaces links and emphasis with their text followed by a
// space so words on either side of them do not run together.
func unwrapInline(sel *goquery.Selection) {
	sel.Find("a, em").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml(" ")
		if s.Contents().Length() > 0 {
			s.Contents().Unwrap()
		} else {
			s.Remove()
		}
	})
}

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// paragraphs joins the text of <p> elements with newlines. When direct is
// true only child paragraphs of sel are used.
func paragraphs(sel *goquery.Selection, direct bool) string {
	ps := sel.Find("p")
	if direct {
		ps = sel.ChildrenFiltered("p")
	}
	parts := make([]string, 0, ps.Length())
	ps.Each(func(_ int, p *goquery.Selection) {
		if t := text(p); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

func metaContent(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

// isoDate keeps the date part of an RFC 3339 timestamp.
func isoDate(ts string) string {
	day, _, _ := strings.Cut(ts, "T")
	return day
}

func firstMatch(root interface {
	Find(string) *goquery.Selection
}, selectors ...string) *goquery.Selection {
	var sel *goquery.Selection
	for _, s := range selectors {
		sel = root.Find(s).First()
		if sel.Length() > 0 {
			return sel
		}
	}
	return sel
}
