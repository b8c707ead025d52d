package ingest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

const acceptFeed = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// DefaultFeeds are used when no feed is configured.
var DefaultFeeds = []config.FeedSource{
	{Name: "ForumPA", URL: "https://www.forumpa.it/feed/"},
	{Name: "AgID", URL: "https://www.agid.gov.it/it/rss.xml"},
	{Name: "Innovazione Italia", URL: "https://innovazione.gov.it/feed.xml"},
	{Name: "EU Digital Strategy", URL: "https://digital-strategy.ec.europa.eu/en/rss.xml"},
	{Name: "SAP Community", URL: "https://community.sap.com/khhcw49343/rss/board?board.id=technology-blog-sap"},
}

// eventKeywords hint that an entry is about an event or an IT topic. They
// are matched as substrings of the lower-cased title and summary.
var eventKeywords = []string{
	"evento", "event", "conferenza", "conference", "summit", "forum",
	"workshop", "webinar", "hackathon", "meetup", "expo", "fiera",
	"seminario", "seminar", "convegno", "call", "bando", "award",
	"challenge", "premio", "concorso", "innovation", "innovazione",
	"digitale", "digital", "cloud", "data", "kubernetes",
	"devops", "machine learning", "trasformazione",
}

// Short acronyms would match inside unrelated words, so they need word
// boundaries.
var acronymKeywords = regexp.MustCompile(`\b(ai|sap)\b`)

// FeedCollector reads RSS and Atom feeds concurrently.
type FeedCollector struct {
	settings config.Settings
	feeds    []config.FeedSource
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewFeedCollector(settings config.Settings) *FeedCollector {
	feeds := settings.Collectors.Feeds.Feeds
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}
	return &FeedCollector{
		settings: settings,
		feeds:    feeds,
		now:      time.Now,
		log:      zap.S().Named("feeds"),
	}
}

func (c *FeedCollector) Name() string { return NameEvents }

func (c *FeedCollector) Units() int { return len(c.feeds) }

func (c *FeedCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	c.log.Infow("starting collection", "feeds", len(c.feeds))

	results := make([][]models.Opportunity, len(c.feeds))
	g, gctx := errgroup.WithContext(ctx)
	if n := c.settings.Collectors.Feeds.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, feed := range c.feeds {
		g.Go(func() error {
			opps, err := c.fetchFeed(gctx, fetcher, feed)
			if err != nil {
				// One broken feed must not cancel its siblings.
				c.log.Warnw("feed failed", "feed", feed.Name, "url", feed.URL, "error", err)
				metrics.IncreaseCollectorFailures(NameEvents)
				done("Feed: errore")
				return nil
			}
			results[i] = opps
			done(fmt.Sprintf("Feed: %d elementi", len(opps)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var opps []models.Opportunity
	for _, r := range results {
		opps = append(opps, r...)
	}
	if limit := c.settings.MaxResults; limit > 0 && len(opps) > limit {
		opps = opps[:limit]
		c.log.Infow("capped to max_results", "max_results", limit)
	}
	c.log.Infow("collection finished", "events", len(opps))
	metrics.AddCollectorItems(NameEvents, len(opps))
	return opps, nil
}

func (c *FeedCollector) fetchFeed(ctx context.Context, fetcher *RateLimitedFetcher, feed config.FeedSource) ([]models.Opportunity, error) {
	var parsed *gofeed.Feed
	req := Request{URL: feed.URL, Header: http.Header{"Accept": {acceptFeed}}}
	err := fetcher.Execute(ctx, req, func(doc *FetchedDocument) error {
		var err error
		parsed, err = gofeed.NewParser().Parse(limitBody(doc.Body))
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []models.Opportunity
	for _, item := range parsed.Items {
		if opp, ok := c.entryToOpportunity(item, feed); ok {
			out = append(out, opp)
		}
	}
	c.log.Infow("feed parsed", "feed", feed.Name, "events", len(out), "entries", len(parsed.Items))
	return out, nil
}

// entryToOpportunity converts an entry that falls inside the lookback window
// and looks event or IT related.
func (c *FeedCollector) entryToOpportunity(item *gofeed.Item, feed config.FeedSource) (models.Opportunity, bool) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return models.Opportunity{}, false
	}
	summary := strings.TrimSpace(firstNonEmpty(item.Description, item.Content))

	published := entryDate(item)
	if published != nil {
		since := c.settings.Today(c.now()).AddDate(0, 0, -c.settings.LookbackDays)
		if published.Before(since) {
			return models.Opportunity{}, false
		}
	}

	if !IsEventRelevant(title + " " + summary) {
		return models.Opportunity{}, false
	}

	name := firstNonEmpty(feed.Name, feed.URL, "RSS")
	link := strings.TrimSpace(item.Link)
	return models.Opportunity{
		ID:                   fmt.Sprintf("EVT-%s-%s", name, shortHash(firstNonEmpty(link, title))),
		Title:                title,
		Description:          StripMarkup(TruncateText(summary, 500)),
		ContractingAuthority: name,
		Currency:             "EUR",
		Country:              "IT",
		SourceURL:            link,
		Source:               models.SourceEvent,
		Type:                 models.TypeEvent,
		PublicationDate:      published,
		CPVCodes:             []string{},
	}, true
}

// IsEventRelevant applies the keyword heuristic used to keep feed entries.
func IsEventRelevant(text string) bool {
	blob := strings.ToLower(text)
	for _, kw := range eventKeywords {
		if strings.Contains(blob, kw) {
			return true
		}
	}
	return acronymKeywords.MatchString(blob)
}

func entryDate(item *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if t != nil {
			return models.DatePtr(*t)
		}
	}
	return nil
}
