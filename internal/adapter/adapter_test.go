package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

func page(url, html string) crawler.Page {
	return crawler.Page{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(html)}
}

func day(y int, m time.Month, d int) crawler.WorkUnit {
	return crawler.NewDayUnit(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"20minutes", "dailymail", "lemonde", "lesechos", "nyt"}, Keys())
	for _, key := range Keys() {
		a, err := Lookup(key)
		require.NoError(t, err)
		assert.Equal(t, key, a.Key())
		assert.NotEmpty(t, a.Name())
		assert.Equal(t, a.Host(), a.Filter().Host)
	}
	_, err := Lookup("le-figaro")
	assert.Error(t, err)

	nyt, err := Lookup("NYT")
	require.NoError(t, err)
	assert.True(t, PrefersHeadless(nyt))
	assert.False(t, PrefersHeadless(NewLeMonde()))
}

func TestListingURLs(t *testing.T) {
	t.Parallel()

	unit := day(2015, time.March, 7)
	assert.Equal(t, "https://www.lemonde.fr/archives-du-monde/07-03-2015/", NewLeMonde().ListingURL(unit))
	assert.Equal(t, "https://www.20minutes.fr/archives/2015/03-07/", NewTwentyMinutes().ListingURL(unit))
	assert.Equal(t, "https://www.dailymail.co.uk/home/sitemaparchive/day_20150307.html", NewDailyMail().ListingURL(unit))
	assert.Equal(t, "https://www.lesechos.fr/2016/02/?page=4",
		NewLesEchos().ListingURL(crawler.NewPageUnit(2016, time.February, 4)))

	nytURL := NewNYT().ListingURL(unit)
	assert.Contains(t, nytURL, "startDate=2015-03-07")
	assert.Contains(t, nytURL, "endDate=2015-03-07")
	assert.Contains(t, nytURL, "types=article")
}

const lemondeListing = `<html><body><div class="river">
<section class="teaser"><a href="https://www.lemonde.fr/politique/article/2015/03/07/a_1.html">A</a></section>
<section class="teaser"><a href="https://www.lemonde.fr/sport/article/2015/03/07/b_2.html">B</a></section>
<section class="teaser"><span>no link</span></section>
</div></body></html>`

const lemondeArticle = `<html><body><main class="main">
<p class="meta__date">Publié le 07 mars 2015 à 10h12</p>
<article class="article">
<h1 class="article__title"> Le budget  adopté </h1>
<p class="article__desc">Un vote serré.</p>
<section class="article__content">
<p>Le texte a été voté par <a href="/x">l'Assemblée</a>hier.</p>
<p>Il entre en <em>vigueur</em>demain.</p>
<div><p>nested ignored</p></div>
</section>
</article></main></body></html>`

func TestLeMondeListingAndExtract(t *testing.T) {
	t.Parallel()

	a := NewLeMonde()
	links, err := a.ListingLinks(page("https://www.lemonde.fr/archives-du-monde/07-03-2015/", lemondeListing))
	require.NoError(t, err)
	assert.Len(t, links, 2)
	assert.True(t, a.Filter().Accept(links[0]))
	assert.False(t, a.Filter().Accept(links[1]))

	item, err := a.Extract(page("https://www.lemonde.fr/politique/article/2015/03/07/a_1.html", lemondeArticle))
	require.NoError(t, err)
	assert.Equal(t, "Le Monde", item.Source)
	assert.Equal(t, "Le budget adopté", item.Title)
	assert.Equal(t, "07 mars 2015", item.PublishedDate)
	assert.Equal(t, "Un vote serré.", item.Description)
	assert.Equal(t, "Le texte a été voté par l'Assemblée hier.\nIl entre en vigueur demain.", item.Body)
}

func TestLeMondeStructuralFailures(t *testing.T) {
	t.Parallel()

	a := NewLeMonde()
	tests := []struct {
		name string
		page crawler.Page
	}{
		{name: "home redirect", page: crawler.Page{
			URL: "https://www.lemonde.fr/a.html", FinalURL: "https://www.lemonde.fr/", Body: []byte(lemondeArticle),
		}},
		{name: "campaign wall", page: page("https://www.lemonde.fr/a.html",
			`<div class="page__campaigns-img-wrapper"></div>`+lemondeArticle)},
		{name: "no article", page: page("https://www.lemonde.fr/a.html", `<main class="main"></main>`)},
		{name: "empty body", page: page("https://www.lemonde.fr/a.html", "")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := a.Extract(tc.page)
			require.ErrorIs(t, err, crawler.ErrStructural)
		})
	}

	_, err := a.ListingLinks(page("https://www.lemonde.fr/archives-du-monde/07-03-2015/", "<html></html>"))
	require.ErrorIs(t, err, crawler.ErrStructural)
}

const twentyMinutesListingUL = `<div class="mb-xxl@md"><ul>
<li><a href="https://www.20minutes.fr/politique/1-x">x</a></li>
<li><a href="https://www.20minutes.fr/sport/2-y">y</a></li>
</ul></div>`

const twentyMinutesListingCards = `<div class="mb-xxl@md">
<div class="flex@xs"><a href="https://www.20minutes.fr/monde/3-z">z</a></div>
</div>`

const twentyMinutesArticle = `<html><head>
<meta property="article:published_time" content="2015-03-07T08:00:00+01:00">
</head><body><div id="page-content">
<h1 class="heading-xxl@md">Titre</h1>
<p class="text-xxl@xs">Chapô</p>
<div class="c-content"><p>Un.</p><p>Deux.</p></div>
</div></body></html>`

func TestTwentyMinutes(t *testing.T) {
	t.Parallel()

	a := NewTwentyMinutes()
	links, err := a.ListingLinks(page("https://www.20minutes.fr/archives/2015/03-07/", twentyMinutesListingUL))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.20minutes.fr/politique/1-x", "https://www.20minutes.fr/sport/2-y"}, links)

	links, err = a.ListingLinks(page("https://www.20minutes.fr/archives/2015/03-07/", twentyMinutesListingCards))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.20minutes.fr/monde/3-z"}, links)

	item, err := a.Extract(page("https://www.20minutes.fr/politique/1-x", twentyMinutesArticle))
	require.NoError(t, err)
	assert.Equal(t, crawler.Item{
		Source: "20 Minutes", Title: "Titre", PublishedDate: "2015-03-07",
		Description: "Chapô", Body: "Un.\nDeux.", URL: "https://www.20minutes.fr/politique/1-x",
	}, item)
}

const dailyMailArticle = `<html><head>
<meta property="article:published_time" content="2015-03-07T21:15:00+0000">
</head><body><div id="js-article-text">
<h1>Headline</h1>
<ul><li><strong>First point</strong></li><li><strong>Second point</strong></li></ul>
<div itemprop="articleBody"><p>Para one.</p><p>Para two.</p></div>
</div></body></html>`

func TestDailyMail(t *testing.T) {
	t.Parallel()

	a := NewDailyMail()
	assert.Equal(t, 10, a.Filter().SkipFirst)

	links, err := a.ListingLinks(page("https://www.dailymail.co.uk/home/sitemaparchive/day_20150307.html",
		`<ul class="archive-articles"><li><a href="/news/article-1/x.html">x</a></li></ul>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/news/article-1/x.html"}, links)

	item, err := a.Extract(page("https://www.dailymail.co.uk/news/article-1/x.html", dailyMailArticle))
	require.NoError(t, err)
	assert.Equal(t, "Headline", item.Title)
	assert.Equal(t, "First point Second point", item.Description)
	assert.Equal(t, "2015-03-07", item.PublishedDate)
	assert.Equal(t, "Para one.\nPara two.", item.Body)

	assert.True(t, a.Filter().Accept("https://www.dailymail.co.uk/news/article-1/x.html"))
	assert.False(t, a.Filter().Accept("https://www.dailymail.co.uk/indianews/article-2/y.html"))
}

func TestNYT(t *testing.T) {
	t.Parallel()

	a := NewNYT()
	links, err := a.ListingLinks(page("https://www.nytimes.com/search", `<ol>
<li data-testid="search-bodega-result"><div><a href="/2015/03/07/us/politics/x.html">x</a></div></li>
<li data-testid="search-bodega-result"><a href="/interactive/2015/y.html">y</a></li>
<li><a href="/2015/03/07/world/z.html">not a result</a></li>
</ol>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/2015/03/07/us/politics/x.html", "/interactive/2015/y.html"}, links)
	assert.True(t, a.Filter().Accept("https://www.nytimes.com/2015/03/07/us/politics/x.html"))
	assert.False(t, a.Filter().Accept("https://www.nytimes.com/interactive/2015/y.html"))

	item, err := a.Extract(page("https://www.nytimes.com/2015/03/07/us/politics/x.html", `<html><body>
<h1 data-testid="headline">Senate Votes</h1>
<p id="article-summary">Summary here.</p>
<section class="meteredContent"><div><p>Deep one.</p></div><p>Two.</p></section>
</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Senate Votes", item.Title)
	assert.Equal(t, "2015-03-07", item.PublishedDate)
	assert.Equal(t, "Summary here.", item.Description)
	assert.Equal(t, "Deep one.\nTwo.", item.Body)

	_, err = a.Extract(page("https://www.nytimes.com/2015/03/07/us/politics/x.html",
		`<iframe src="https://geo.captcha-delivery.com/captcha/?x=1"></iframe>`))
	require.ErrorIs(t, err, crawler.ErrChallenge)
}

func TestLesEchos(t *testing.T) {
	t.Parallel()

	a := NewLesEchos()
	assert.Equal(t, crawler.GranularityMonthPage, a.Granularity())

	links, err := a.ListingLinks(page("https://www.lesechos.fr/2016/02/?page=1",
		`<div class="sc-19z4l96-2"><a href="/economie-france/x-1001">x</a></div>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/economie-france/x-1001"}, links)

	item, err := a.Extract(page("https://www.lesechos.fr/economie-france/x-1001", `<html><body>
<div class="sc-1guqewj-0"><span class="sc-1h4katp-0">Publié le 4 févr. 2016</span>
<article class="sc-dygkz8-0"><h1 class="sc-1nfy22n-0">Croissance</h1><p class="text">Chapeau</p>
<div class="sc-1s859o0-0"><p>Corps <a href="#">lien</a>fin.</p></div></article></div>
</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Les Echos", item.Source)
	assert.Equal(t, "Croissance", item.Title)
	assert.Equal(t, "Publié le 4 févr. 2016", item.PublishedDate)
	assert.Equal(t, "Chapeau", item.Description)
	assert.Equal(t, "Corps lien fin.", item.Body)
}
