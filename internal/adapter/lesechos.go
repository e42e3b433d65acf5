package adapter

import (
	"fmt"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const lesEchosHost = "www.lesechos.fr"

func init() {
	Register("lesechos", func() crawler.Adapter { return NewLesEchos() })
}

// LesEchos walks numbered monthly listing pages rather than daily archives.
type LesEchos struct {
	base
}

// NewLesEchos builds the Les Echos adapter.
func NewLesEchos() *LesEchos {
	return &LesEchos{base: base{
		name:        "Les Echos",
		key:         "lesechos",
		host:        lesEchosHost,
		granularity: crawler.GranularityMonthPage,
		filter:      crawler.LinkFilter{Host: lesEchosHost},
	}}
}

// ListingURL implements crawler.Adapter.
func (a *LesEchos) ListingURL(unit crawler.WorkUnit) string {
	page := max(unit.Page, 1)
	return fmt.Sprintf("https://%s/%d/%02d/?page=%d", lesEchosHost, unit.Date.Year(), int(unit.Date.Month()), page)
}

// ListingLinks implements crawler.Adapter.
func (a *LesEchos) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := document(page)
	if err != nil {
		return nil, err
	}
	return firstLinks(doc.Find(".sc-19z4l96-2")), nil
}

// Extract implements crawler.Adapter.
func (a *LesEchos) Extract(page crawler.Page) (crawler.Item, error) {
	doc, err := document(page)
	if err != nil {
		return crawler.Item{}, err
	}
	if doc.Find(".page__campaigns-img-wrapper").Length() > 0 {
		return crawler.Item{}, crawler.Structuralf("subscription wall on %s", page.URL)
	}
	main := doc.Find(".sc-1guqewj-0").First()
	article := main.Find(".sc-dygkz8-0").First()
	if article.Length() == 0 {
		return crawler.Item{}, crawler.Structuralf("no article section on %s", page.URL)
	}
	title := text(article.Find(".sc-1nfy22n-0").First())
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no title on %s", page.URL)
	}
	desc := text(article.Find(".text").First())
	date := text(main.Find(".sc-1h4katp-0").First())

	content := article.Find(".sc-1s859o0-0").First()
	unwrapInline(content)
	body := paragraphs(content, true)
	if body == "" {
		return crawler.Item{}, crawler.Structuralf("no article body on %s", page.URL)
	}
	item := a.item(title, date, desc, body)
	item.URL = page.URL
	return item, nil
}
