package ingest

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var commonSkipPaths = []string{
	"/login", "/signup", "/register", "/cart", "/checkout",
	"/privacy", "/terms", "/cookie", "/legal",
	".pdf", ".zip", ".png", ".jpg", ".svg",
}

// EventSkipPaths are link fragments never worth sending to the model.
var EventSkipPaths = commonSkipPaths

// TenderSkipPaths additionally drop office attachments.
var TenderSkipPaths = append(append([]string{}, commonSkipPaths...), ".xlsx", ".docx")

// FilterLinks resolves hrefs against base and keeps unique http(s) links
// whose path does not contain any of the skip fragments.
func FilterLinks(base string, hrefs []string, skip []string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}

		link := abs.String()
		if skipPath(strings.ToLower(abs.Path), skip) {
			continue
		}
		key := linkKey(link)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	return out
}

// ExtractLinks parses html and filters its anchors like FilterLinks.
func ExtractLinks(html []byte, base string, skip []string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return FilterLinks(base, hrefs, skip)
}

func skipPath(path string, skip []string) bool {
	for _, frag := range skip {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}
