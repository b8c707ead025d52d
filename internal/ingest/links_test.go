package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLinks(t *testing.T) {
	hrefs := []string{
		"/eventi/forum-2026",
		"/eventi/forum-2026/#programma",
		"https://example.it/eventi/forum-2026/",
		"#top",
		"javascript:void(0)",
		"mailto:info@example.it",
		"tel:+39061234",
		"/login?next=/eventi",
		"/docs/programma.pdf",
		"ftp://example.it/file",
		"https://partner.example.com/summit",
		"  ",
	}

	got := FilterLinks("https://example.it/eventi/", hrefs, EventSkipPaths)
	assert.Equal(t, []string{
		"https://example.it/eventi/forum-2026",
		"https://partner.example.com/summit",
	}, got)
}

func TestFilterLinksTenderSkipsOfficeFiles(t *testing.T) {
	hrefs := []string{"/allegati/capitolato.docx", "/allegati/offerta.xlsx", "/bandi/123"}

	assert.Equal(t, []string{"https://comune.example.it/bandi/123"},
		FilterLinks("https://comune.example.it/", hrefs, TenderSkipPaths))
	assert.Len(t, FilterLinks("https://comune.example.it/", hrefs, EventSkipPaths), 3)
}

func TestExtractLinks(t *testing.T) {
	html := []byte(`<html><body>
		<a href="/bandi/1">Bando 1</a>
		<a href="bandi/2">Bando 2</a>
		<a>no href</a>
		<a href="/privacy">Privacy</a>
	</body></html>`)

	got := ExtractLinks(html, "https://regione.example.it/portale/", TenderSkipPaths)
	assert.Equal(t, []string{
		"https://regione.example.it/bandi/1",
		"https://regione.example.it/portale/bandi/2",
	}, got)
}
