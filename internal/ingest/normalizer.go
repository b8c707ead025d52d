package ingest

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// TruncateText cuts a string to at most maxLen bytes without splitting a rune.
func TruncateText(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// StripMarkup removes all tags from a feed summary or model output. The
// result is plain, unescaped, whitespace-normalized text.
func StripMarkup(s string) string {
	return cleanText(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// PageText extracts readable text from a page: script/style (and with
// dropChrome, nav/header/footer) are removed, blank lines dropped and the
// result truncated to maxLen.
func PageText(src string, maxLen int, dropChrome bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return TruncateText(cleanText(src), maxLen)
	}

	doc.Find("script, style, noscript, iframe, template").Remove()
	if dropChrome {
		doc.Find("nav, footer, header").Remove()
	}
	doc.Find("br, p, div, li, h1, h2, h3, h4, h5, h6, tr, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if l := cleanText(line); l != "" {
			lines = append(lines, l)
		}
	}
	return TruncateText(strings.Join(lines, "\n"), maxLen)
}
