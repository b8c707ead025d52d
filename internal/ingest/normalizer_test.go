package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `<html><head><title>Eventi</title><style>.x{color:red}</style>
<script>var tracking = 1;</script></head>
<body>
<header>Menu principale</header>
<nav><a href="/login">Accedi</a></nav>
<article><h1>Forum PA 2026</h1><p>Tre giorni di confronto su <b>cloud</b> e dati.</p>
<ul><li>Roma</li><li>12 maggio 2026</li></ul></article>
<footer>Cookie policy</footer>
</body></html>`

func TestPageText(t *testing.T) {
	text := PageText(samplePage, 0, true)

	assert.Contains(t, text, "Forum PA 2026")
	assert.Contains(t, text, "Tre giorni di confronto su cloud e dati.")
	assert.Contains(t, text, "12 maggio 2026")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Menu principale")
	assert.NotContains(t, text, "Cookie policy")
	for _, line := range strings.Split(text, "\n") {
		assert.NotEmpty(t, line)
	}
}

func TestPageTextKeepsChrome(t *testing.T) {
	text := PageText(samplePage, 0, false)
	assert.Contains(t, text, "Menu principale")
	assert.NotContains(t, text, "tracking")
}

func TestPageTextTruncates(t *testing.T) {
	assert.LessOrEqual(t, len(PageText(samplePage, 20, true)), 20)
}

func TestTruncateTextKeepsRunes(t *testing.T) {
	s := "città"
	got := TruncateText(s, 5)
	assert.Equal(t, "citt", got)
	assert.Equal(t, s, TruncateText(s, 0))
	assert.Equal(t, s, TruncateText(s, 100))
}

func TestStripMarkup(t *testing.T) {
	got := StripMarkup(`<p>Bando <strong>R&amp;D</strong> per PMI</p>  <script>alert(1)</script>`)
	assert.Equal(t, "Bando R&D per PMI", got)
}
