package adapter

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const nytHost = "www.nytimes.com"

// nytSections restricts search results to Business, New York, Opinion, U.S. and World.
const nytSections = "Business|nyt://section/0415b2b0-513a-5e78-80da-21ab770cb753," +
	"New York|nyt://section/39480374-66d3-5603-9ce1-58cfa12988e2," +
	"Opinion|nyt://section/d7a71185-aa60-5635-bce0-5fab76c7c297," +
	"U.S.|nyt://section/a34d3d6c-c77f-5931-b951-241b4e28681c," +
	"World|nyt://section/70e865b6-cc70-5181-84c9-8368b3a5c34b"

var nytArticlePath = regexp.MustCompile(`^/\d{4}/\d{2}/\d{2}(/|$|\?)`)

func init() {
	Register("nyt", func() crawler.Adapter { return NewNYT() })
}

// NYT lists a day's articles through the site search, which only renders
// with JavaScript.
type NYT struct {
	base
}

// NewNYT builds the New York Times adapter.
func NewNYT() *NYT {
	return &NYT{base: base{
		name:        "The New York Times",
		key:         "nyt",
		host:        nytHost,
		granularity: crawler.GranularityDay,
		filter: crawler.LinkFilter{
			Host:        nytHost,
			PathPattern: nytArticlePath,
		},
	}}
}

// PreferHeadless implements HeadlessPreferrer.
func (a *NYT) PreferHeadless() bool { return true }

// ListingURL implements crawler.Adapter.
func (a *NYT) ListingURL(unit crawler.WorkUnit) string {
	day := unit.Date.Format("2006-01-02")
	q := url.Values{}
	q.Set("dropmab", "false")
	q.Set("startDate", day)
	q.Set("endDate", day)
	q.Set("lang", "en")
	q.Set("query", "")
	q.Set("sections", nytSections)
	q.Set("sort", "best")
	q.Set("types", "article")
	return "https://" + nytHost + "/search?" + q.Encode()
}

// ListingLinks implements crawler.Adapter.
func (a *NYT) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := document(page)
	if err != nil {
		return nil, err
	}
	return firstLinks(doc.Find(`li[data-testid="search-bodega-result"]`)), nil
}

// Extract implements crawler.Adapter. The publication date is read from the
// article path.
func (a *NYT) Extract(page crawler.Page) (crawler.Item, error) {
	doc, err := document(page)
	if err != nil {
		return crawler.Item{}, err
	}
	if doc.Find(`iframe[src*="captcha-delivery.com"]`).Length() > 0 {
		return crawler.Item{}, crawler.Challengef("captcha on %s", page.URL)
	}
	title := text(firstMatch(doc, `h1[data-testid="headline"]`, ".e1h9rw200"))
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no headline on %s", page.URL)
	}
	desc := text(firstMatch(doc, "#article-summary", ".e1wiw3jv0"))
	body := paragraphs(firstMatch(doc, ".meteredContent", `section[name="articleBody"]`), false)
	if body == "" {
		return crawler.Item{}, crawler.Structuralf("no article body on %s", page.URL)
	}
	item := a.item(title, nytDate(page.URL), desc, body)
	item.URL = page.URL
	return item, nil
}

func nytDate(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 3 || !nytArticlePath.MatchString(u.Path) {
		return ""
	}
	return parts[0] + "-" + parts[1] + "-" + parts[2]
}
