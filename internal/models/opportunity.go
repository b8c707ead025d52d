package models

import (
	"net/url"
	"strings"
	"time"
)

type Source string

const (
	SourceTED       Source = "TED"
	SourceANAC      Source = "ANAC"
	SourceEvent     Source = "Event"
	SourceRegional  Source = "Regionale"
	SourceWebSearch Source = "WebSearch"
)

type OpportunityType string

const (
	TypeTender  OpportunityType = "Bando"
	TypeContest OpportunityType = "Concorso"
	TypeEvent   OpportunityType = "Evento"
)

// Opportunity is a normalized candidate tender, contest or event.
// Deadline is the only field mutated after collection (date enrichment).
type Opportunity struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	ContractingAuthority string          `json:"contracting_authority"`
	Deadline             *time.Time      `json:"deadline"`
	EstimatedValue       *float64        `json:"estimated_value"`
	Currency             string          `json:"currency"`
	Country              string          `json:"country"`
	SourceURL            string          `json:"source_url"`
	Source               Source          `json:"source"`
	Type                 OpportunityType `json:"opportunity_type"`
	PublicationDate      *time.Time      `json:"publication_date"`
	CPVCodes             []string        `json:"cpv_codes"`
}

func (o Opportunity) IsEvent() bool {
	return o.Type == TypeEvent
}

// NormalizedURL is the source URL key used for deduplication and exclusion.
func (o Opportunity) NormalizedURL() string {
	return NormalizeURLKey(o.SourceURL)
}

func (o Opportunity) NormalizedTitle() string {
	return strings.ToLower(strings.TrimSpace(o.Title))
}

// NormalizeURLKey canonicalizes u, lower-cases it and drops a trailing slash.
func NormalizeURLKey(u string) string {
	key := strings.ToLower(CanonicalizeURL(strings.TrimSpace(u)))
	return strings.TrimRight(key, "/")
}

var trackingParams = []string{
	"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid",
}

// CanonicalizeURL lower-cases the host, drops the fragment and strips
// tracking parameters. Unparseable input is returned unchanged.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	removed := false
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
			removed = true
		}
	}
	for _, p := range trackingParams {
		if q.Has(p) {
			q.Del(p)
			removed = true
		}
	}
	if removed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Date truncates t to a calendar date at UTC midnight. Opportunity dates carry
// no time-of-day; all comparisons go through this.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to Date(t).
func DatePtr(t time.Time) *time.Time {
	d := Date(t)
	return &d
}

// DateKey formats a date as YYYY-MM-DD, empty for nil.
func DateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
