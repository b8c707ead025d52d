package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/metrics"
)

// ScrapedPage is one seed page as seen by the crawler.
type ScrapedPage struct {
	URL  string
	HTML []byte
	// Hrefs are the raw href attributes of every anchor, in document order.
	Hrefs      []string
	StatusCode int
	ScrapedAt  time.Time
}

// SeedScraper visits seed pages with colly. It shares the connection pool,
// pacing and retry policy of the fetcher it was built from.
type SeedScraper struct {
	fetcher *RateLimitedFetcher
	log     *zap.SugaredLogger
}

func NewSeedScraper(fetcher *RateLimitedFetcher) *SeedScraper {
	return &SeedScraper{fetcher: fetcher, log: zap.S().Named("colly")}
}

// buildCollector creates a single-use collector bound to ctx.
func (s *SeedScraper) buildCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(browserUserAgent),
		colly.MaxBodySize(defaultMaxBody),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.SetClient(s.fetcher.Client())
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	})
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHTML)
		r.Headers.Set("Accept-Language", s.fetcher.config.AcceptLanguage)
	})
	return c
}

// Scrape fetches pageURL and collects its anchors, retrying transient
// failures per the fetcher policy.
func (s *SeedScraper) Scrape(ctx context.Context, pageURL string) (*ScrapedPage, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", pageURL)
	}
	policy := s.fetcher.retry

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncreaseHTTPRetries(retryReason(lastErr))
			s.log.Debugw("retrying seed page", "url", pageURL, "attempt", attempt, "error", lastErr)
			if err := policy.Wait(ctx, attempt, 0); err != nil {
				return nil, err
			}
		}
		if l := s.fetcher.limiter(u.Host); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, err
			}
		}

		page, err := s.visit(ctx, pageURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !policy.ShouldRetry(err, 0) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *SeedScraper) visit(ctx context.Context, pageURL string) (*ScrapedPage, error) {
	visitCtx, cancel := context.WithTimeout(ctx, s.fetcher.config.Timeout)
	defer cancel()

	c := s.buildCollector(visitCtx)
	page := &ScrapedPage{URL: pageURL}
	var failedStatus int

	c.OnResponse(func(r *colly.Response) {
		page.URL = r.Request.URL.String()
		page.HTML = r.Body
		page.StatusCode = r.StatusCode
		page.ScrapedAt = time.Now()
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		page.Hrefs = append(page.Hrefs, e.Attr("href"))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			failedStatus = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if failedStatus >= 400 {
			return nil, &HTTPStatusError{StatusCode: failedStatus, URL: pageURL}
		}
		return nil, fmt.Errorf("visit %s: %w", pageURL, err)
	}
	c.Wait()
	return page, nil
}
