package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	rpdf "rsc.io/pdf"
)

var deadlineLabelHints = []string{
	"scadenza", "termine", "entro il", "presentazione delle offerte", "deadline", "closing date", "data di chiusura",
}

var dateSnippetRegexes = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/20\d{2}\b`),
	regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b`),
	italianDateRegex,
}

// DateCandidate is one date found in free text with a little context.
type DateCandidate struct {
	Date     time.Time
	Snippet  string
	Deadline bool
}

// maxPDFPages bounds how much of a tender document is scanned; deadlines sit
// in the first pages of a disciplinare.
const maxPDFPages = 40

// ExtractPDFText returns the text of the first maxPDFPages pages, one line per
// page. A panic inside the pdf reader on a malformed file becomes an error.
func ExtractPDFText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	doc, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := min(doc.NumPage(), maxPDFPages)
	lines := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		pc := page.Content()
		words := make([]string, 0, len(pc.Text))
		for _, t := range pc.Text {
			words = append(words, t.S)
		}
		lines = append(lines, strings.Join(words, " "))
	}
	return strings.Join(lines, "\n"), nil
}

// IsPDF reports whether a URL or content type points at a PDF document.
func IsPDF(rawURL, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	u := strings.ToLower(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".pdf")
}

// DateCandidates finds the dates in text, earliest first. Dates near a
// deadline phrase are flagged so callers can prefer them.
func DateCandidates(text string) []DateCandidate {
	found := make(map[string]DateCandidate)

	for _, expr := range dateSnippetRegexes {
		for _, loc := range expr.FindAllStringIndex(text, -1) {
			token := strings.TrimSpace(text[loc[0]:loc[1]])
			parsed := ParseExtractedDate(token)
			if parsed == nil {
				continue
			}

			start := loc[0] - 80
			if start < 0 {
				start = 0
			}
			end := loc[1] + 80
			if end > len(text) {
				end = len(text)
			}
			snippet := cleanText(text[start:end])
			lower := strings.ToLower(snippet)
			isDeadline := false
			for _, hint := range deadlineLabelHints {
				if strings.Contains(lower, hint) {
					isDeadline = true
					break
				}
			}

			key := parsed.Format("2006-01-02")
			if prev, ok := found[key]; ok && prev.Deadline {
				continue
			}
			found[key] = DateCandidate{Date: *parsed, Snippet: snippet, Deadline: isDeadline}
		}
	}

	out := make([]DateCandidate, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// BestDeadline picks the latest flagged deadline date, or nil.
func BestDeadline(candidates []DateCandidate) *time.Time {
	var best *time.Time
	for i := range candidates {
		if !candidates[i].Deadline {
			continue
		}
		d := candidates[i].Date
		best = &d
	}
	return best
}
