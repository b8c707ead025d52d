package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/david/opportunity-monitor/internal/models"
)

var tzSuffixRegex = regexp.MustCompile(`(Z|[+-]\d{2}:?\d{2})$`)

// isoLayouts are tried after any zone suffix has been removed.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

// extractedLayouts are the shapes the LLM returns for dates it found in text.
var extractedLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
}

var italianMonths = map[string]time.Month{
	"gennaio": time.January, "febbraio": time.February, "marzo": time.March,
	"aprile": time.April, "maggio": time.May, "giugno": time.June,
	"luglio": time.July, "agosto": time.August, "settembre": time.September,
	"ottobre": time.October, "novembre": time.November, "dicembre": time.December,
	"gen": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"mag": time.May, "giu": time.June, "lug": time.July, "ago": time.August,
	"set": time.September, "ott": time.October, "nov": time.November, "dic": time.December,
}

var italianDateRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre|gen|feb|mar|apr|mag|giu|lug|ago|set|ott|nov|dic)\.?\s+(20\d{2})\b`)

// ParseDate reads the ISO-ish date forms used by the source APIs. Any zone
// suffix is dropped and the calendar date is kept as written.
func ParseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty date")
	}
	stripped := tzSuffixRegex.ReplaceAllString(value, "")
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, stripped); err == nil {
			return models.DatePtr(t), nil
		}
	}
	return nil, fmt.Errorf("unable to parse date: %s", value)
}

// ParseExtractedDate parses a date found by the model in free text.
// Returns nil when the value is empty or unparseable.
func ParseExtractedDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "null") || strings.EqualFold(value, "none") {
		return nil
	}
	for _, layout := range extractedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return models.DatePtr(t)
		}
	}
	if t, err := ParseDate(value); err == nil {
		return t
	}
	if t := parseItalianDate(value); t != nil {
		return t
	}
	return nil
}

func parseItalianDate(text string) *time.Time {
	m := italianDateRegex.FindStringSubmatch(text)
	if len(m) != 4 {
		return nil
	}
	month, ok := italianMonths[strings.ToLower(m[2])]
	if !ok {
		return nil
	}
	var day, year int
	if _, err := fmt.Sscanf(m[1]+" "+m[3], "%d %d", &day, &year); err != nil {
		return nil
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return nil
	}
	return &t
}
