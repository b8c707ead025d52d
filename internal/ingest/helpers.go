package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"strings"

	"github.com/david/opportunity-monitor/internal/models"
)

// cleanText collapses runs of whitespace and trims the result.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendUnique adds v unless the list already holds it, ignoring case.
func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

// shortHash is the first 12 hex chars of sha256(s), used in stable ids.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// domainName returns the host of rawURL without a leading "www.".
func domainName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// linkKey is the comparison key for discovered links; it matches the key the
// pipeline deduplicates source URLs on.
func linkKey(link string) string {
	return models.NormalizeURLKey(link)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// limitBody caps how much of a response body a parser may consume.
func limitBody(r io.Reader) io.Reader {
	return io.LimitReader(r, defaultMaxBody)
}
