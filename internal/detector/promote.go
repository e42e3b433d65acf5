package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Promotion decides when a page fetched over plain HTTP is only a
// JavaScript shell and must be fetched again with a browser.
type Promotion struct {
	BodyLengthThreshold int
	markers             [][]byte
}

// NewPromotion creates a promotion detector. Extra markers are matched on
// top of the common single-page-app roots.
func NewPromotion(threshold int, extraMarkers ...string) *Promotion {
	if threshold == 0 {
		threshold = 2048
	}
	markers := append([][]byte(nil), spaMarkers...)
	for _, m := range extraMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, []byte(m))
		}
	}
	return &Promotion{BodyLengthThreshold: threshold, markers: markers}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether a headless fetch is required.
func (h *Promotion) ShouldPromote(page crawler.Page) bool {
	if page.StatusCode != http.StatusOK || page.UsedHeadless {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range h.markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements make up at least a
// quarter of the document. Unterminated scripts run to the end of the body.
func scriptDensityHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}
	openTag, closeTag := []byte("<script"), []byte("</script>")

	covered := 0
	for pos := 0; pos < total; {
		rel := bytes.Index(lower[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if gt := bytes.IndexByte(lower[start:], '>'); gt >= 0 {
			contentStart := start + gt + 1
			if closeAt := bytes.Index(lower[contentStart:], closeTag); closeAt >= 0 {
				end = contentStart + closeAt + len(closeTag)
			}
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
