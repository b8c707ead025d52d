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

// WebEventsCollector discovers event pages from configured seed pages and
// extracts the events they describe.
type WebEventsCollector struct {
	settings config.Settings
	cfg      config.WebDiscoveryConfig
	pageAI   PageAI
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewWebEventsCollector(settings config.Settings, pageAI PageAI) *WebEventsCollector {
	return &WebEventsCollector{
		settings: settings,
		cfg:      settings.Collectors.WebEvents,
		pageAI:   pageAI,
		now:      time.Now,
		log:      zap.S().Named("web-events"),
	}
}

func (c *WebEventsCollector) Name() string { return NameWebEvents }

func (c *WebEventsCollector) Units() int { return len(c.cfg.Pages) }

func (c *WebEventsCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	if len(c.cfg.Pages) == 0 {
		c.log.Infow("no seed pages configured")
		return nil, nil
	}
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	discovery := webDiscovery{
		kind:            ai.EventLinks,
		cfg:             c.cfg,
		skip:            EventSkipPaths,
		pageAI:          c.pageAI,
		fallbackToSeeds: true,
		log:             c.log,
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

		events, err := c.extractPage(ctx, fetcher, page)
		if err != nil {
			c.log.Warnw("event extraction failed", "url", page, "error", err)
			continue
		}
		for _, ev := range events {
			opp, ok := c.toOpportunity(page, ev, today)
			if !ok {
				continue
			}
			if _, dup := seen[opp.ID]; dup {
				continue
			}
			seen[opp.ID] = struct{}{}
			opps = append(opps, opp)
		}
		if limit := c.settings.MaxResults; limit > 0 && len(opps) >= limit {
			opps = opps[:limit]
			c.log.Infow("reached max_results cap", "max_results", limit)
			break
		}
	}

	c.log.Infow("collection finished", "events", len(opps), "pages", len(pages))
	metrics.AddCollectorItems(NameWebEvents, len(opps))
	return opps, nil
}

func (c *WebEventsCollector) extractPage(ctx context.Context, fetcher *RateLimitedFetcher, page string) ([]ai.ExtractedEvent, error) {
	body, err := fetcher.Get(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	text := PageText(string(body), c.cfg.MaxText, true)
	if len(text) < minPageText {
		return nil, nil
	}
	return c.pageAI.ExtractEvents(ctx, page, text)
}

func (c *WebEventsCollector) toOpportunity(page string, ev ai.ExtractedEvent, today time.Time) (models.Opportunity, bool) {
	title := StripMarkup(ev.Title.String())
	if title == "" {
		return models.Opportunity{}, false
	}
	link := extractableURL(ev.URL.String(), page)

	description := StripMarkup(ev.Description.String())
	if loc := StripMarkup(ev.Location.String()); loc != "" {
		description = strings.TrimSpace(description + " 📍 " + loc)
	}

	return models.Opportunity{
		ID:                   "WEB-" + shortHash(page+":"+title),
		Title:                title,
		Description:          TruncateText(description, 500),
		ContractingAuthority: domainName(link),
		Deadline:             ParseExtractedDate(ev.EventDate.String()),
		Currency:             "EUR",
		Country:              "IT",
		SourceURL:            link,
		Source:               models.SourceEvent,
		Type:                 models.TypeEvent,
		PublicationDate:      models.DatePtr(today),
		CPVCodes:             []string{},
	}, true
}
