package adapter

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const lemondeHost = "www.lemonde.fr"

func init() {
	Register("lemonde", func() crawler.Adapter { return NewLeMonde() })
}

// LeMonde walks the daily "archives-du-monde" pages.
type LeMonde struct {
	base
}

// NewLeMonde builds the Le Monde adapter.
func NewLeMonde() *LeMonde {
	return &LeMonde{base: base{
		name:        "Le Monde",
		key:         "lemonde",
		host:        lemondeHost,
		granularity: crawler.GranularityDay,
		filter: crawler.LinkFilter{
			Include: []string{
				"international", "politique", "societe", "economie", "idees", "afrique",
				"planete", "police-justice", "asie-pacifique", "immigration-et-diversite", "proche-orient",
			},
			Exclude: []string{"video", "bande-dessinee", "visuel", "live", "5241561", "blog", "mondephilatelique"},
			Host:    lemondeHost,
		},
	}}
}

// ListingURL implements crawler.Adapter.
func (a *LeMonde) ListingURL(unit crawler.WorkUnit) string {
	d := unit.Date
	return fmt.Sprintf("https://%s/archives-du-monde/%02d-%02d-%d/", lemondeHost, d.Day(), int(d.Month()), d.Year())
}

// ListingLinks implements crawler.Adapter.
func (a *LeMonde) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := document(page)
	if err != nil {
		return nil, err
	}
	river := doc.Find(".river")
	if river.Length() == 0 {
		return nil, crawler.Structuralf("no archive river on %s", page.URL)
	}
	return firstLinks(river.Find(".teaser")), nil
}

// Extract implements crawler.Adapter.
func (a *LeMonde) Extract(page crawler.Page) (crawler.Item, error) {
	if redirectedHome(page.FinalURL) {
		return crawler.Item{}, crawler.Structuralf("redirected to home page from %s", page.URL)
	}
	doc, err := document(page)
	if err != nil {
		return crawler.Item{}, err
	}
	if doc.Find(".page__campaigns-img-wrapper").Length() > 0 {
		return crawler.Item{}, crawler.Structuralf("subscription wall on %s", page.URL)
	}
	main := doc.Find(".main").First()
	article := main.Find(".article").First()
	if article.Length() == 0 {
		return crawler.Item{}, crawler.Structuralf("no article section on %s", page.URL)
	}
	title := text(article.Find(".article__title").First())
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no title on %s", page.URL)
	}
	desc := text(article.Find(".article__desc").First())
	date := lemondeDate(text(firstMatch(main, ".meta__date", ".meta__date-reading")))

	content := article.Find(".article__content").First()
	unwrapInline(content)
	body := paragraphs(content, true)
	if body == "" {
		return crawler.Item{}, crawler.Structuralf("no article body on %s", page.URL)
	}
	item := a.item(title, date, desc, body)
	item.URL = page.URL
	return item, nil
}

// lemondeDate keeps "1 janvier 2015" out of "Publié le 1 janvier 2015 à 10h00".
func lemondeDate(raw string) string {
	words := strings.Fields(raw)
	if len(words) >= 5 {
		return strings.Join(words[2:5], " ")
	}
	return raw
}

func redirectedHome(finalURL string) bool {
	switch strings.TrimSuffix(finalURL, "/") {
	case "https://" + lemondeHost, "https://" + lemondeHost + "/en":
		return true
	default:
		return false
	}
}
