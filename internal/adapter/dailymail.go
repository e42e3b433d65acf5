package adapter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const dailyMailHost = "www.dailymail.co.uk"

func init() {
	Register("dailymail", func() crawler.Adapter { return NewDailyMail() })
}

// DailyMail walks the Daily Mail sitemap archive.
type DailyMail struct {
	base
}

// NewDailyMail builds the Daily Mail adapter. The first ten archive entries
// are navigation and promoted links, not the day's articles.
func NewDailyMail() *DailyMail {
	return &DailyMail{base: base{
		name:        "Daily Mail",
		key:         "dailymail",
		host:        dailyMailHost,
		granularity: crawler.GranularityDay,
		filter: crawler.LinkFilter{
			Include:   []string{"news"},
			Exclude:   []string{"indianews"},
			Host:      dailyMailHost,
			SkipFirst: 10,
		},
	}}
}

// ListingURL implements crawler.Adapter.
func (a *DailyMail) ListingURL(unit crawler.WorkUnit) string {
	d := unit.Date
	return fmt.Sprintf("https://%s/home/sitemaparchive/day_%d%02d%02d.html", dailyMailHost, d.Year(), int(d.Month()), d.Day())
}

// ListingLinks implements crawler.Adapter.
func (a *DailyMail) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := document(page)
	if err != nil {
		return nil, err
	}
	list := doc.Find("ul.archive-articles").First()
	if list.Length() == 0 {
		return nil, crawler.Structuralf("no archive list on %s", page.URL)
	}
	return firstLinks(list.Find("li")), nil
}

// Extract implements crawler.Adapter.
func (a *DailyMail) Extract(page crawler.Page) (crawler.Item, error) {
	doc, err := document(page)
	if err != nil {
		return crawler.Item{}, err
	}
	head := doc.Find("#js-article-text").First()
	title := text(head.Find("h1").First())
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no headline on %s", page.URL)
	}
	var highlights []string
	head.Find("ul").First().Find("strong").Each(func(_ int, s *goquery.Selection) {
		if t := text(s); t != "" {
			highlights = append(highlights, t)
		}
	})
	date := isoDate(metaContent(doc, "article:published_time"))
	body := paragraphs(doc.Find(`[itemprop="articleBody"]`).First(), true)
	if body == "" {
		return crawler.Item{}, crawler.Structuralf("no article body on %s", page.URL)
	}
	item := a.item(title, date, strings.Join(highlights, " "), body)
	item.URL = page.URL
	return item, nil
}
