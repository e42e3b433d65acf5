package adapter

import (
	"fmt"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

const twentyMinutesHost = "www.20minutes.fr"

func init() {
	Register("20minutes", func() crawler.Adapter { return NewTwentyMinutes() })
}

// TwentyMinutes walks the daily 20 Minutes archive pages.
type TwentyMinutes struct {
	base
}

// NewTwentyMinutes builds the 20 Minutes adapter.
func NewTwentyMinutes() *TwentyMinutes {
	return &TwentyMinutes{base: base{
		name:        "20 Minutes",
		key:         "20minutes",
		host:        twentyMinutesHost,
		granularity: crawler.GranularityDay,
		filter: crawler.LinkFilter{
			Include: []string{
				"international", "politique", "societe", "economie", "idees", "afrique", "planete",
				"police-justice", "monde", "faits_divers", "sante", "france", "elections",
			},
			Exclude: []string{"video", "direct"},
			Host:    twentyMinutesHost,
		},
	}}
}

// ListingURL implements crawler.Adapter.
func (a *TwentyMinutes) ListingURL(unit crawler.WorkUnit) string {
	d := unit.Date
	return fmt.Sprintf("https://%s/archives/%d/%02d-%02d/", twentyMinutesHost, d.Year(), int(d.Month()), d.Day())
}

// ListingLinks implements crawler.Adapter. Older archive pages list links in
// a <ul>, newer ones in flex cards.
func (a *TwentyMinutes) ListingLinks(page crawler.Page) ([]string, error) {
	doc, err := document(page)
	if err != nil {
		return nil, err
	}
	river := doc.Find(`[class~="mb-xxl@md"]`).First()
	if river.Length() == 0 {
		return nil, crawler.Structuralf("no archive list on %s", page.URL)
	}
	if items := river.Find("ul").First().Find("li"); items.Length() > 0 {
		return firstLinks(items), nil
	}
	return firstLinks(river.Find(`div[class~="flex@xs"]`)), nil
}

// Extract implements crawler.Adapter.
func (a *TwentyMinutes) Extract(page crawler.Page) (crawler.Item, error) {
	doc, err := document(page)
	if err != nil {
		return crawler.Item{}, err
	}
	section := doc.Find("#page-content").First()
	if section.Length() == 0 {
		return crawler.Item{}, crawler.Structuralf("no page content on %s", page.URL)
	}
	title := text(section.Find(`[class~="heading-xxl@md"]`).First())
	if title == "" {
		return crawler.Item{}, crawler.Structuralf("no title on %s", page.URL)
	}
	desc := text(section.Find(`[class~="text-xxl@xs"]`).First())
	date := isoDate(metaContent(doc, "article:published_time"))
	body := paragraphs(section.Find(".c-content").First(), true)
	if body == "" {
		return crawler.Item{}, crawler.Structuralf("no article body on %s", page.URL)
	}
	item := a.item(title, date, desc, body)
	item.URL = page.URL
	return item, nil
}
