package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/ingest"
	"github.com/david/opportunity-monitor/internal/models"
)

// DateExtractor finds the most relevant date in a page's text.
type DateExtractor interface {
	ExtractDate(ctx context.Context, pageURL, text string) (*ai.DateExtraction, error)
}

const minEnrichText = 30

var (
	tedPublicationRegex = regexp.MustCompile(`(\d{4,}-\d{4})`)

	// Deadline elements of an eForms notice, most specific first.
	tedDeadlineRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<cac:TenderSubmissionDeadlinePeriod>\s*<cbc:EndDate>([^<]+)</cbc:EndDate>`),
		regexp.MustCompile(`(?s)<cac:ParticipationRequestReceptionPeriod>\s*<cbc:EndDate>([^<]+)</cbc:EndDate>`),
		regexp.MustCompile(`(?s)SubmissionDeadlinePeriod>\s*<cbc:EndDate>([^<]+)</cbc:EndDate>`),
		regexp.MustCompile(`(?s)ReceptionPeriod>\s*<cbc:EndDate>([^<]+)</cbc:EndDate>`),
	}
)

// DateEnricher back-fills missing deadlines from the items' source pages.
type DateEnricher struct {
	cfg       config.EnricherConfig
	httpCfg   config.FetchConfig
	extractor DateExtractor
	log       *zap.SugaredLogger
}

func NewDateEnricher(settings config.Settings, extractor DateExtractor) *DateEnricher {
	return &DateEnricher{
		cfg:       settings.Enricher,
		httpCfg:   settings.HTTP,
		extractor: extractor,
		log:       zap.S().Named("date-enricher"),
	}
}

// MissingDates counts the items the enricher would visit.
func MissingDates(items []models.ClassifiedOpportunity) int {
	n := 0
	for _, item := range items {
		if item.Opportunity.Deadline == nil && item.Opportunity.SourceURL != "" {
			n++
		}
	}
	return n
}

// Enrich patches items in place and returns how many got a deadline.
// Per-item failures are logged and skipped; only cancellation is returned.
func (e *DateEnricher) Enrich(ctx context.Context, items []models.ClassifiedOpportunity, reporter Reporter) (int, error) {
	var missing []int
	for i, item := range items {
		if item.Opportunity.Deadline == nil && item.Opportunity.SourceURL != "" {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		e.log.Infow("all opportunities already have dates")
		return 0, nil
	}
	e.log.Infow("fetching source pages for missing dates", "missing", len(missing), "total", len(items))

	fetcher := ingest.NewRateLimitedFetcher(e.httpCfg)
	defer fetcher.Close()

	patched := 0
	for n, idx := range missing {
		if n > 0 {
			if err := sleepCtx(ctx, e.cfg.Delay); err != nil {
				return patched, err
			}
		}
		opp := &items[idx].Opportunity

		date, err := e.extract(ctx, fetcher, opp.SourceURL)
		switch {
		case err != nil && ctx.Err() != nil:
			return patched, ctx.Err()
		case err != nil:
			e.log.Warnw("date extraction failed", "url", opp.SourceURL, "error", err)
		case date != nil:
			opp.Deadline = date
			patched++
			e.log.Infof("[%d/%d] %s -> %s", n+1, len(missing), truncateRunes(opp.SourceURL, 80), models.DateKey(date))
		default:
			e.log.Debugf("[%d/%d] %s -> no date found", n+1, len(missing), truncateRunes(opp.SourceURL, 80))
		}
		reporter.ItemProgress(n+1, len(missing), truncateRunes(opp.Title, 40))
	}

	e.log.Infow("date enrichment finished", "patched", patched, "missing", len(missing))
	return patched, nil
}

func (e *DateEnricher) extract(ctx context.Context, fetcher *ingest.RateLimitedFetcher, link string) (*time.Time, error) {
	// TED detail pages are rendered client side; the notice XML carries the deadline.
	if strings.Contains(link, "ted.europa.eu") {
		if d := e.tedXMLDeadline(ctx, fetcher, link); d != nil {
			return d, nil
		}
	}

	body, err := fetcher.Get(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var text string
	if ingest.IsPDF(link, "") {
		text, err = ingest.ExtractPDFText(body)
		if err != nil {
			return nil, fmt.Errorf("pdf: %w", err)
		}
		if d := ingest.BestDeadline(ingest.DateCandidates(text)); d != nil {
			return d, nil
		}
		text = ingest.TruncateText(text, e.cfg.MaxText)
	} else {
		text = ingest.PageText(string(body), e.cfg.MaxText, false)
	}
	if len(strings.TrimSpace(text)) < minEnrichText {
		return nil, nil
	}

	found, err := e.extractor.ExtractDate(ctx, link, text)
	if err != nil {
		return nil, err
	}
	if !found.Found() {
		return nil, nil
	}
	return ingest.ParseExtractedDate(found.Date), nil
}

func (e *DateEnricher) tedXMLDeadline(ctx context.Context, fetcher *ingest.RateLimitedFetcher, link string) *time.Time {
	if e.cfg.TEDXMLURL == "" {
		return nil
	}
	m := tedPublicationRegex.FindStringSubmatch(link)
	if m == nil {
		return nil
	}
	xmlURL := fmt.Sprintf(e.cfg.TEDXMLURL, m[1])
	body, err := fetcher.Get(ctx, xmlURL)
	if err != nil {
		e.log.Debugw("TED XML fetch failed", "url", xmlURL, "error", err)
		return nil
	}
	return tedDeadline(string(body))
}

// tedDeadline reads the submission deadline from eForms notice XML.
func tedDeadline(xml string) *time.Time {
	for _, re := range tedDeadlineRegexes {
		m := re.FindStringSubmatch(xml)
		if m == nil {
			continue
		}
		if d, err := ingest.ParseDate(m[1]); err == nil {
			return d
		}
	}
	return nil
}
