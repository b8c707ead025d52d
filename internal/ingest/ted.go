package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// tedFields are the search-field names requested from the TED API.
var tedFields = []string{
	"publication-number",
	"notice-title",
	"description-proc",
	"description-lot",
	"buyer-name",
	"buyer-country",
	"deadline-receipt-tender-date-lot",
	"estimated-value-proc",
	"estimated-value-lot",
	"classification-cpv",
	"notice-type",
	"dispatch-date",
}

// tedCountryCodes maps ISO 3166 alpha-2 to the alpha-3 codes TED expects.
var tedCountryCodes = map[string]string{
	"AT": "AUT", "BE": "BEL", "BG": "BGR", "HR": "HRV", "CY": "CYP",
	"CZ": "CZE", "DK": "DNK", "EE": "EST", "FI": "FIN", "FR": "FRA",
	"DE": "DEU", "GR": "GRC", "HU": "HUN", "IE": "IRL", "IT": "ITA",
	"LV": "LVA", "LT": "LTU", "LU": "LUX", "MT": "MLT", "NL": "NLD",
	"PL": "POL", "PT": "PRT", "RO": "ROU", "SK": "SVK", "SI": "SVN",
	"ES": "ESP", "SE": "SWE", "IS": "ISL", "LI": "LIE", "NO": "NOR",
	"CH": "CHE", "GB": "GBR", "TR": "TUR", "IL": "ISR", "AE": "ARE",
	"SA": "SAU", "ZA": "ZAF",
}

type tedSearchRequest struct {
	Query          string   `json:"query"`
	Fields         []string `json:"fields"`
	Page           int      `json:"page"`
	Limit          int      `json:"limit"`
	Scope          string   `json:"scope"`
	PaginationMode string   `json:"paginationMode"`
}

type tedSearchResponse struct {
	Notices          []tedNotice `json:"notices"`
	TotalNoticeCount int         `json:"totalNoticeCount"`
}

// tedNotice keeps fields raw: TED returns plain strings, lists, or
// language-keyed maps depending on the field.
type tedNotice map[string]json.RawMessage

// TEDCollector pages through the TED Search API v3.
type TEDCollector struct {
	settings config.Settings
	cfg      config.TEDConfig
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewTEDCollector(settings config.Settings) *TEDCollector {
	return &TEDCollector{
		settings: settings,
		cfg:      settings.Collectors.TED,
		now:      time.Now,
		log:      zap.S().Named("ted"),
	}
}

func (c *TEDCollector) Name() string { return NameTED }

func (c *TEDCollector) Units() int { return 1 }

func (c *TEDCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	c.log.Infow("starting collection", "lookback_days", c.settings.LookbackDays)
	notices, err := c.search(ctx, fetcher)
	if err != nil && len(notices) == 0 {
		metrics.IncreaseCollectorFailures(NameTED)
		done("TED: errore")
		return nil, fmt.Errorf("ted search failed: %w", err)
	}
	if err != nil {
		c.log.Warnw("search interrupted, keeping partial results", "notices", len(notices), "error", err)
	}

	opps := c.normalize(notices)
	c.log.Infow("collection finished", "opportunities", len(opps))
	metrics.AddCollectorItems(NameTED, len(opps))
	done(fmt.Sprintf("TED: %d bandi", len(opps)))
	return opps, nil
}

// BuildQuery renders the expert-search query: open notice types, CPV
// prefixes, buyer countries and publication date cutoff.
func (c *TEDCollector) BuildQuery() string {
	since := c.settings.Today(c.now()).AddDate(0, 0, -c.settings.LookbackDays)

	types := make([]string, 0, len(OpenNoticeTypes))
	for _, nt := range OpenNoticeTypes {
		types = append(types, "notice-type = "+nt)
	}
	cpvs := make([]string, 0, len(c.settings.CPVCodes))
	for _, cpv := range c.settings.CPVCodes {
		cpvs = append(cpvs, fmt.Sprintf("PC = %s*", cpv))
	}
	countries := make([]string, 0, len(c.settings.Countries))
	for _, cc := range c.settings.Countries {
		code := strings.ToUpper(cc)
		if mapped, ok := tedCountryCodes[code]; ok {
			code = mapped
		}
		countries = append(countries, "buyer-country = "+code)
	}

	clauses := []string{"(" + strings.Join(types, " OR ") + ")"}
	if len(cpvs) > 0 {
		clauses = append(clauses, "("+strings.Join(cpvs, " OR ")+")")
	}
	if len(countries) > 0 {
		clauses = append(clauses, "("+strings.Join(countries, " OR ")+")")
	}
	clauses = append(clauses, "PD >= "+since.Format("20060102"))
	return strings.Join(clauses, " AND ")
}

func (c *TEDCollector) search(ctx context.Context, fetcher *RateLimitedFetcher) ([]tedNotice, error) {
	query := c.BuildQuery()
	c.log.Infow("query built", "query", TruncateText(query, 200))

	policy := NewRetryPolicy(c.cfg.Retry)
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxResults := c.settings.MaxResults

	var all []tedNotice
	for page := 1; ; page++ {
		body := tedSearchRequest{
			Query:          query,
			Fields:         tedFields,
			Page:           page,
			Limit:          pageSize,
			Scope:          "ALL",
			PaginationMode: "PAGE_NUMBER",
		}
		var resp tedSearchResponse
		if err := fetcher.PostJSON(ctx, c.cfg.SearchURL, body, &resp, &policy); err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}

		all = append(all, resp.Notices...)
		c.log.Infow("page fetched", "page", page, "fetched", len(all), "total", resp.TotalNoticeCount)

		if maxResults > 0 && len(all) >= maxResults {
			c.log.Infow("reached max_results cap", "max_results", maxResults)
			return all[:maxResults], nil
		}
		if len(resp.Notices) == 0 || len(all) >= resp.TotalNoticeCount {
			return all, nil
		}
		if err := sleepCtx(ctx, c.cfg.PageDelay); err != nil {
			return all, err
		}
	}
}

func (c *TEDCollector) normalize(notices []tedNotice) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(notices))
	skipped, unnumbered := 0, 0
	for _, n := range notices {
		if n.first("publication-number") == "" {
			unnumbered++
			continue
		}
		noticeType := n.first("notice-type")
		title := n.first("notice-title")
		if decision := ComputeStatusDecision(noticeType, title); decision.Closed {
			skipped++
			continue
		}
		out = append(out, c.toOpportunity(n, noticeType, title))
	}
	if skipped > 0 {
		c.log.Infow("skipped closed or awarded notices", "count", skipped)
	}
	if unnumbered > 0 {
		c.log.Warnw("skipped notices without publication number", "count", unnumbered)
	}
	return out
}

func (c *TEDCollector) toOpportunity(n tedNotice, noticeType, title string) models.Opportunity {
	pubNumber := n.first("publication-number")
	description := firstNonEmpty(n.first("description-lot"), n.first("description-proc"))

	opp := models.Opportunity{
		ID:                   "TED-" + pubNumber,
		Title:                firstNonEmpty(title, description, "Untitled"),
		Description:          description,
		ContractingAuthority: n.first("buyer-name"),
		Currency:             "EUR",
		Country:              n.first("buyer-country"),
		SourceURL:            fmt.Sprintf("https://ted.europa.eu/udl?uri=TED:NOTICE:%s:DATA:EN:HTML", pubNumber),
		Source:               models.SourceTED,
		Type:                 DetectOpportunityType(noticeType, title),
		CPVCodes:             n.list("classification-cpv"),
	}
	if d, err := ParseDate(n.first("deadline-receipt-tender-date-lot")); err == nil {
		opp.Deadline = d
	}
	if d, err := ParseDate(n.first("dispatch-date")); err == nil {
		opp.PublicationDate = d
	}
	opp.EstimatedValue = parseTEDNumber(firstNonEmpty(n.first("estimated-value-lot"), n.first("estimated-value-proc")))
	return opp
}

func parseTEDNumber(s string) *float64 {
	s = strings.NewReplacer(",", "", " ", "").Replace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// tedLanguages is the preference order for language-keyed fields.
var tedLanguages = []string{"eng", "ENG", "ita", "ITA"}

// first returns the first scalar of a field, whatever its shape. Keyed
// values are chosen by tedLanguages, then by the smallest key.
func (n tedNotice) first(field string) string {
	raw, ok := n[field]
	if !ok {
		return ""
	}
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return strings.TrimSpace(scalarOrFirst(raw))
	}
	for _, lang := range tedLanguages {
		if v, ok := byKey[lang]; ok {
			return strings.TrimSpace(scalarOrFirst(v))
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(scalarOrFirst(byKey[k])); v != "" {
			return v
		}
	}
	return ""
}

func (n tedNotice) list(field string) []string {
	raw, ok := n[field]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if v := scalarOrFirst(raw); v != "" {
			return []string{v}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = appendUnique(out, scalarOrFirst(it))
	}
	return out
}

// scalarOrFirst renders a JSON scalar, or the first element of an array.
func scalarOrFirst(raw json.RawMessage) string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		if len(items) == 0 {
			return ""
		}
		raw = items[0]
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}
