package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// WebSearchCollector replaces seed crawling with search-grounded queries:
// each query yields candidate pages which are then fetched and extracted.
type WebSearchCollector struct {
	settings config.Settings
	cfg      config.WebSearchConfig
	pageAI   PageAI
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewWebSearchCollector(settings config.Settings, pageAI PageAI) *WebSearchCollector {
	return &WebSearchCollector{
		settings: settings,
		cfg:      settings.Collectors.WebSearch,
		pageAI:   pageAI,
		now:      time.Now,
		log:      zap.S().Named("web-search"),
	}
}

func (c *WebSearchCollector) Name() string { return NameWebSearch }

func (c *WebSearchCollector) Units() int { return len(c.cfg.Queries) }

func (c *WebSearchCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	if len(c.cfg.Queries) == 0 {
		c.log.Infow("no search queries configured")
		return nil, nil
	}
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	maxPerQuery := c.cfg.MaxPerQuery
	if maxPerQuery <= 0 {
		maxPerQuery = 5
	}
	today := c.settings.Today(c.now())
	seenURLs := make(map[string]struct{})
	var opps []models.Opportunity
	calls := 0

	// pause spaces out model calls; the first call is not delayed.
	pause := func() error {
		calls++
		if calls == 1 {
			return nil
		}
		return sleepCtx(ctx, c.cfg.Delay)
	}

queries:
	for _, query := range c.cfg.Queries {
		if err := pause(); err != nil {
			break
		}
		hits, err := c.pageAI.SearchWeb(ctx, query, maxPerQuery)
		if err != nil {
			c.log.Warnw("search failed", "query", query, "error", err)
			done("Ricerca: errore")
			continue
		}
		c.log.Infow("search completed", "query", query, "results", len(hits))
		done(fmt.Sprintf("Ricerca: %d risultati", len(hits)))

		for _, hit := range hits {
			link := strings.TrimSpace(hit.URL.String())
			if !strings.HasPrefix(link, "http") || IsPDF(link, "") {
				continue
			}
			key := linkKey(link)
			if _, ok := seenURLs[key]; ok {
				continue
			}
			seenURLs[key] = struct{}{}

			if err := pause(); err != nil {
				break queries
			}
			extraction, err := c.extractPage(ctx, fetcher, link)
			if err != nil {
				c.log.Warnw("page extraction failed", "url", link, "error", err)
				continue
			}
			if extraction == nil {
				continue
			}
			opps = append(opps, c.toOpportunity(link, *extraction, today))

			if limit := c.settings.MaxResults; limit > 0 && len(opps) >= limit {
				c.log.Infow("reached max_results cap", "max_results", limit)
				break queries
			}
		}
	}

	c.log.Infow("collection finished", "opportunities", len(opps), "queries", len(c.cfg.Queries))
	metrics.AddCollectorItems(NameWebSearch, len(opps))
	return opps, nil
}

func (c *WebSearchCollector) extractPage(ctx context.Context, fetcher *RateLimitedFetcher, link string) (*ai.SearchExtraction, error) {
	body, err := fetcher.Get(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	text := PageText(string(body), c.cfg.MaxText, true)
	if len(text) < minPageText {
		return nil, nil
	}
	e, err := c.pageAI.ExtractSearchPage(ctx, link, text)
	if err != nil || e == nil {
		return nil, err
	}
	if StripMarkup(e.Title.String()) == "" {
		return nil, nil
	}
	return e, nil
}

func (c *WebSearchCollector) toOpportunity(link string, e ai.SearchExtraction, today time.Time) models.Opportunity {
	oppType := models.TypeTender
	if e.IsEvent() {
		oppType = models.TypeEvent
	}

	description := StripMarkup(e.Description.String())
	if loc := StripMarkup(e.Location.String()); loc != "" && e.IsEvent() {
		description = strings.TrimSpace(description + " 📍 " + loc)
	}
	country := strings.ToUpper(e.Country.String())
	if len(country) != 2 {
		country = "IT"
	}

	return models.Opportunity{
		ID:                   "SEARCH-" + shortHash(link),
		Title:                StripMarkup(e.Title.String()),
		Description:          TruncateText(description, 500),
		ContractingAuthority: firstNonEmpty(StripMarkup(e.ContractingAuthority.String()), domainName(link)),
		Deadline:             ParseExtractedDate(e.Deadline.String()),
		EstimatedValue:       amountValue(e.EstimatedValue),
		Currency:             "EUR",
		Country:              country,
		SourceURL:            link,
		Source:               models.SourceWebSearch,
		Type:                 oppType,
		PublicationDate:      models.DatePtr(today),
		CPVCodes:             []string{},
	}
}
