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

const (
	// maxPageLinks bounds the links offered to the model with a tender page.
	maxPageLinks    = 80
	maxRequirements = 5
)

// WebTendersCollector discovers tender pages on regional and municipal
// procurement portals and extracts one tender per page.
type WebTendersCollector struct {
	settings config.Settings
	cfg      config.WebDiscoveryConfig
	pageAI   PageAI
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewWebTendersCollector(settings config.Settings, pageAI PageAI) *WebTendersCollector {
	return &WebTendersCollector{
		settings: settings,
		cfg:      settings.Collectors.WebTenders,
		pageAI:   pageAI,
		now:      time.Now,
		log:      zap.S().Named("web-tenders"),
	}
}

func (c *WebTendersCollector) Name() string { return NameWebTenders }

func (c *WebTendersCollector) Units() int { return len(c.cfg.Pages) }

func (c *WebTendersCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	if len(c.cfg.Pages) == 0 {
		c.log.Infow("no portals configured")
		return nil, nil
	}
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	discovery := webDiscovery{
		kind:   ai.TenderLinks,
		cfg:    c.cfg,
		skip:   TenderSkipPaths,
		pageAI: c.pageAI,
		log:    c.log,
	}
	pages := discovery.discover(ctx, NewSeedScraper(fetcher), done)
	c.log.Infow("pages to analyse", "pages", len(pages))

	today := c.settings.Today(c.now())
	seen := make(map[string]struct{})
	var opps []models.Opportunity
	for i, page := range pages {
		if i > 0 {
			if err := sleepCtx(ctx, c.cfg.Delay); err != nil {
				break
			}
		}

		tender, err := c.extractPage(ctx, fetcher, page)
		if err != nil {
			c.log.Warnw("tender extraction failed", "url", page, "error", err)
			continue
		}
		if tender == nil {
			continue
		}
		opp, ok := c.toOpportunity(page, *tender, today)
		if !ok {
			continue
		}
		if _, dup := seen[opp.ID]; dup {
			continue
		}
		seen[opp.ID] = struct{}{}
		opps = append(opps, opp)

		if limit := c.settings.MaxResults; limit > 0 && len(opps) >= limit {
			c.log.Infow("reached max_results cap", "max_results", limit)
			break
		}
	}

	c.log.Infow("collection finished", "tenders", len(opps), "pages", len(pages))
	metrics.AddCollectorItems(NameWebTenders, len(opps))
	return opps, nil
}

func (c *WebTendersCollector) extractPage(ctx context.Context, fetcher *RateLimitedFetcher, page string) (*ai.ExtractedTender, error) {
	body, err := fetcher.Get(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	text := PageText(string(body), c.cfg.MaxText, false)
	if len(text) < minPageText {
		return nil, nil
	}
	links := ExtractLinks(body, page, TenderSkipPaths)
	if len(links) > maxPageLinks {
		links = links[:maxPageLinks]
	}
	return c.pageAI.ExtractTender(ctx, page, text, links)
}

func (c *WebTendersCollector) toOpportunity(page string, t ai.ExtractedTender, today time.Time) (models.Opportunity, bool) {
	title := StripMarkup(t.Title.String())
	if title == "" {
		return models.Opportunity{}, false
	}
	link := extractableURL(t.URL.String(), page)

	description := StripMarkup(t.Description.String())
	var reqs []string
	for _, r := range t.Requirements {
		if r = StripMarkup(r); r != "" {
			reqs = append(reqs, "• "+r)
		}
		if len(reqs) == maxRequirements {
			break
		}
	}
	if len(reqs) > 0 {
		description = strings.TrimSpace(description + "\n" + strings.Join(reqs, "\n"))
	}

	return models.Opportunity{
		ID:                   "REG-" + shortHash(link+":"+title),
		Title:                title,
		Description:          description,
		ContractingAuthority: firstNonEmpty(StripMarkup(t.ContractingAuthority.String()), domainName(link)),
		Deadline:             ParseExtractedDate(t.Deadline.String()),
		EstimatedValue:       amountValue(t.EstimatedValue),
		Currency:             "EUR",
		Country:              "IT",
		SourceURL:            link,
		Source:               models.SourceRegional,
		Type:                 models.TypeTender,
		PublicationDate:      models.DatePtr(today),
		CPVCodes:             []string{},
	}, true
}

// amountValue prefers a numeric amount and parses free text otherwise.
func amountValue(a ai.Amount) *float64 {
	if a.Value != nil {
		return a.Value
	}
	if a.Raw == "" {
		return nil
	}
	return ParseAmount(a.Raw)
}
