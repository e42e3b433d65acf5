// Package crawlertest provides an in-memory site and fetcher for exercising
// the crawl loop without a network.
package crawlertest

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Host is the canonical host of the fake site.
const Host = "news.test"

// Adapter is a day-granular source served by Fetcher.
type Adapter struct {
	LinkFilter crawler.LinkFilter
}

// NewAdapter returns an adapter accepting every /article/ link on Host.
func NewAdapter() *Adapter {
	return &Adapter{LinkFilter: crawler.LinkFilter{Include: []string{"/article/"}, Host: Host}}
}

func (a *Adapter) Name() string                     { return "Test News" }
func (a *Adapter) Key() string                      { return "testnews" }
func (a *Adapter) Host() string                     { return Host }
func (a *Adapter) Granularity() crawler.Granularity { return crawler.GranularityDay }
func (a *Adapter) Filter() crawler.LinkFilter       { return a.LinkFilter }

// ListingURL implements crawler.Adapter.
func (a *Adapter) ListingURL(unit crawler.WorkUnit) string {
	return ListingURL(unit)
}

// ListingLinks implements crawler.Adapter.
func (a *Adapter) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, crawler.Structuralf("parse listing: %v", err)
	}
	list := doc.Find("ul.archive")
	if list.Length() == 0 {
		return nil, crawler.Structuralf("no archive list on %s", page.URL)
	}
	var links []string
	list.Find("a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return links, nil
}

// Extract implements crawler.Adapter.
func (a *Adapter) Extract(page crawler.Page) (crawler.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.Item{}, crawler.Structuralf("parse article: %v", err)
	}
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no title on %s", page.URL)
	}
	return crawler.Item{
		Source:        a.Name(),
		Title:         title,
		PublishedDate: strings.TrimSpace(doc.Find("time").First().Text()),
		Description:   strings.TrimSpace(doc.Find("h2").First().Text()),
		Body:          strings.TrimSpace(doc.Find("p").First().Text()),
		URL:           page.URL,
	}, nil
}

// ListingURL is the archive page of a unit.
func ListingURL(unit crawler.WorkUnit) string {
	return "https://" + Host + "/archive/" + unit.Key()
}

// ArticleURL is the URL of the n-th article of a unit.
func ArticleURL(unit crawler.WorkUnit, n int) string {
	return fmt.Sprintf("https://%s/article/%s/%d", Host, unit.Key(), n)
}

// ListingHTML renders an archive page linking to hrefs.
func ListingHTML(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="archive">`)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<li><a href="%s">story</a></li>`, html.EscapeString(h))
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

// ArticleHTML renders an article page.
func ArticleHTML(title, date, body string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><h2>summary</h2><time>%s</time><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(date), html.EscapeString(body))
}

// Response is one scripted reply.
type Response struct {
	Status int
	Body   string
	Err    error
}

// Fetcher serves scripted responses per URL. When a URL has several
// responses they are consumed in order and the last one repeats.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     map[string]int
	restarts  int
	closed    bool
}

// NewFetcher builds an empty Fetcher; unknown URLs get a 404.
func NewFetcher() *Fetcher {
	return &Fetcher{responses: make(map[string][]Response), calls: make(map[string]int)}
}

// Serve scripts the responses for url.
func (f *Fetcher) Serve(url string, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = responses
}

// ServeHTML scripts a single 200 response.
func (f *Fetcher) ServeHTML(url, body string) {
	f.Serve(url, Response{Status: http.StatusOK, Body: body})
}

// Fetch implements crawler.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Page{}, err
	}
	f.mu.Lock()
	n := f.calls[request.URL]
	f.calls[request.URL] = n + 1
	script := f.responses[request.URL]
	f.mu.Unlock()

	if len(script) == 0 {
		return crawler.Page{URL: request.URL, FinalURL: request.URL, StatusCode: http.StatusNotFound}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	resp := script[n]
	if resp.Err != nil {
		return crawler.Page{}, resp.Err
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	return crawler.Page{
		URL:        request.URL,
		FinalURL:   request.URL,
		StatusCode: status,
		Body:       []byte(resp.Body),
	}, nil
}

// Restart implements crawler.SessionRestarter.
func (f *Fetcher) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

// Close implements crawler.Session.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns how many times url was fetched.
func (f *Fetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// TotalCalls returns the number of fetches across all URLs.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Restarts returns how many times Restart was called.
func (f *Fetcher) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Closed reports whether Close was called.
func (f *Fetcher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Rotator counts rotations.
type Rotator struct {
	mu    sync.Mutex
	count int
}

// Rotate implements crawler.IdentityRotator.
func (r *Rotator) Rotate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

// Current implements crawler.IdentityRotator.
func (r *Rotator) Current() crawler.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return crawler.Identity{UserAgent: fmt.Sprintf("test-agent/%d", r.count)}
}

// Count returns the number of rotations.
func (r *Rotator) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Sink collects items in memory with dedup on the persisted columns.
type Sink struct {
	mu    sync.Mutex
	items []crawler.Item
	seen  map[string]struct{}
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{seen: make(map[string]struct{})}
}

// Append implements crawler.OutputSink.
func (s *Sink) Append(_ context.Context, item crawler.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Join(item.Record(), "\x1f")
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, item)
	return true, nil
}

// Close implements crawler.OutputSink.
func (s *Sink) Close() error { return nil }

// Items returns a copy of the stored items.
func (s *Sink) Items() []crawler.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Item(nil), s.items...)
}
