package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

func TestChallengeDetect(t *testing.T) {
	t.Parallel()

	d := NewChallenge(DefaultConfig())
	tests := []struct {
		name string
		page crawler.Page
		want error
	}{
		{name: "ok article", page: crawler.Page{StatusCode: http.StatusOK, Body: []byte("<p>news</p>")}},
		{name: "forbidden", page: crawler.Page{StatusCode: http.StatusForbidden}, want: crawler.ErrChallenge},
		{name: "rate limited", page: crawler.Page{StatusCode: http.StatusTooManyRequests}, want: crawler.ErrChallenge},
		{name: "server error", page: crawler.Page{StatusCode: http.StatusBadGateway}, want: crawler.ErrNetwork},
		{name: "not found", page: crawler.Page{StatusCode: http.StatusNotFound}, want: crawler.ErrStructural},
		{
			name: "captcha iframe",
			page: crawler.Page{StatusCode: http.StatusOK, Body: []byte(
				`<html><body><iframe src="https://geo.captcha-delivery.com/captcha/"></iframe></body></html>`)},
			want: crawler.ErrChallenge,
		},
		{
			name: "keyword",
			page: crawler.Page{StatusCode: http.StatusOK, Body: []byte("<h1>Verify you are a HUMAN</h1>")},
			want: crawler.ErrChallenge,
		},
		{
			name: "recaptcha selector",
			page: crawler.Page{StatusCode: http.StatusOK, Body: []byte(`<div class="g-recaptcha"></div>`)},
			want: crawler.ErrChallenge,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := d.Detect(tc.page)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNilChallengeDetectorAllows(t *testing.T) {
	t.Parallel()

	var d *Challenge
	assert.NoError(t, d.Detect(crawler.Page{StatusCode: http.StatusForbidden}))
}

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	p := NewPromotion(0, `data-testid="search-bodega-result"`)
	shell := "<html><head>" + strings.Repeat("<script>var x=1;</script>", 20) + "</head><body></body></html>"

	tests := []struct {
		name string
		page crawler.Page
		want bool
	}{
		{name: "empty body", page: crawler.Page{StatusCode: http.StatusOK}, want: true},
		{name: "script heavy shell", page: crawler.Page{StatusCode: http.StatusOK, Body: []byte(shell)}, want: true},
		{name: "next marker", page: crawler.Page{StatusCode: http.StatusOK, Body: []byte(`<div id="__next"></div>` + strings.Repeat("x", 4096))}, want: true},
		{name: "extra marker", page: crawler.Page{StatusCode: http.StatusOK, Body: []byte(`<li data-testid="search-bodega-result"></li>` + strings.Repeat("x", 4096))}, want: true},
		{name: "plain article", page: crawler.Page{StatusCode: http.StatusOK, Body: []byte("<article>" + strings.Repeat("text ", 1000) + "</article>")}},
		{name: "already headless", page: crawler.Page{StatusCode: http.StatusOK, UsedHeadless: true}},
		{name: "non 200", page: crawler.Page{StatusCode: http.StatusForbidden}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldPromote(tc.page))
		})
	}
}
