package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/config"
)

// minPageText is the shortest page text worth an extraction call.
const minPageText = 50

// webDiscovery is the crawl phase shared by the event and tender collectors:
// scrape each seed page, filter its links, and let the model pick the ones
// that point at individual items.
type webDiscovery struct {
	kind   ai.LinkKind
	cfg    config.WebDiscoveryConfig
	skip   []string
	pageAI PageAI
	// fallbackToSeeds extracts from the seed pages themselves when no link
	// is selected.
	fallbackToSeeds bool
	log             *zap.SugaredLogger
}

// discover returns the pages to extract from, deduplicated across seeds and
// capped at MaxPages. done is called once per seed.
func (d webDiscovery) discover(ctx context.Context, scraper *SeedScraper, done func(string)) []string {
	seen := make(map[string]struct{})
	var pages []string

	for i, seed := range d.cfg.Pages {
		if i > 0 {
			if err := sleepCtx(ctx, d.cfg.Delay); err != nil {
				break
			}
		}

		selected, err := d.selectFromSeed(ctx, scraper, seed)
		if err != nil {
			d.log.Warnw("seed page failed", "seed", seed, "error", err)
			done("Seed: errore")
			continue
		}

		added := 0
		for _, link := range selected {
			key := linkKey(link)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			pages = append(pages, link)
			added++
		}
		d.log.Infow("seed page analysed", "seed", seed, "selected", len(selected), "new", added)
		done(fmt.Sprintf("Seed: %d link", added))
	}

	if len(pages) == 0 && d.fallbackToSeeds && ctx.Err() == nil {
		d.log.Infow("no links selected, extracting from seed pages")
		pages = append(pages, d.cfg.Pages...)
	}
	if limit := d.cfg.MaxPages; limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages
}

func (d webDiscovery) selectFromSeed(ctx context.Context, scraper *SeedScraper, seed string) ([]string, error) {
	page, err := scraper.Scrape(ctx, seed)
	if err != nil {
		return nil, err
	}
	links := FilterLinks(page.URL, page.Hrefs, d.skip)
	if limit := d.cfg.MaxLinks; limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	if len(links) == 0 {
		return nil, nil
	}

	selected, err := d.pageAI.SelectLinks(ctx, d.kind, seed, links)
	if err != nil {
		return nil, fmt.Errorf("link selection: %w", err)
	}

	out := make([]string, 0, len(selected))
	for _, link := range selected {
		if !strings.HasPrefix(link, "http") {
			continue
		}
		out = append(out, link)
		if len(out) == d.kind.MaxSelected() {
			break
		}
	}
	return out, nil
}

// extractableURL is the URL an extracted item should point at: the model's
// link when it looks absolute, otherwise the page it came from.
func extractableURL(candidate, page string) string {
	candidate = strings.TrimSpace(candidate)
	if strings.HasPrefix(candidate, "http") {
		return candidate
	}
	return page
}
