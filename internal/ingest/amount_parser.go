package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var amountRegex = regexp.MustCompile(`\d[\d.,']*\d|\d`)

var magnitudeWords = map[string]float64{
	"mila":     1e3,
	"k":        1e3,
	"milioni":  1e6,
	"milione":  1e6,
	"mln":      1e6,
	"million":  1e6,
	"miliardi": 1e9,
	"mld":      1e9,
}

// ParseAmount reads a monetary amount as written on Italian and English
// pages ("€ 1.250.000,00", "1,250,000.50 EUR", "2,5 milioni"). The largest
// figure is taken when a range is given. Returns nil when nothing numeric
// is found.
func ParseAmount(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var best float64
	found := false
	for _, m := range amountRegex.FindAllString(text, -1) {
		v, ok := parseNumber(strings.TrimSpace(m))
		if !ok {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	if !found {
		return nil
	}

	for word, mult := range magnitudeWords {
		if containsWord(lower, word) && best < 1000 {
			best *= mult
			break
		}
	}
	return &best
}

// parseNumber decides which of '.' and ',' is the decimal separator: the one
// that appears last, if it is followed by one or two digits.
func parseNumber(s string) (float64, bool) {
	s = strings.NewReplacer(" ", "", "'", "").Replace(s)
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	decimalSep := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			decimalSep = ','
		} else {
			decimalSep = '.'
		}
	case lastComma >= 0:
		if digitsAfter(s, lastComma) <= 2 && strings.Count(s, ",") == 1 {
			decimalSep = ','
		}
	case lastDot >= 0:
		if digitsAfter(s, lastDot) <= 2 && strings.Count(s, ".") == 1 {
			decimalSep = '.'
		}
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimalSep:
			b.WriteByte('.')
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func digitsAfter(s string, idx int) int {
	return len(s) - idx - 1
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if f == word {
			return true
		}
	}
	return false
}
