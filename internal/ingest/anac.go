package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

const anacSourceURL = "https://dati.anticorruzione.it/opendata/ocds_it"

var errFileTooLarge = errors.New("declared file size exceeds download limit")

type ckanPackage struct {
	Result struct {
		Resources []struct {
			Format string `json:"format"`
			URL    string `json:"url"`
		} `json:"resources"`
	} `json:"result"`
}

type ocdsRelease struct {
	OCID   string `json:"ocid"`
	Date   string `json:"date"`
	Buyer  struct {
		Name string `json:"name"`
	} `json:"buyer"`
	Tender struct {
		Description string `json:"description"`
		Value       struct {
			Amount   json.RawMessage `json:"amount"`
			Currency string          `json:"currency"`
		} `json:"value"`
		TenderPeriod struct {
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		} `json:"tenderPeriod"`
		Documents []struct {
			URL string `json:"url"`
		} `json:"documents"`
		Items []struct {
			Description    string `json:"description"`
			Classification struct {
				ID          string `json:"id"`
				Description string `json:"description"`
			} `json:"classification"`
		} `json:"items"`
	} `json:"tender"`
}

// ANACCollector streams the monthly OCDS bulk files published by ANAC.
type ANACCollector struct {
	settings config.Settings
	cfg      config.ANACConfig
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewANACCollector(settings config.Settings) *ANACCollector {
	return &ANACCollector{
		settings: settings,
		cfg:      settings.Collectors.ANAC,
		now:      time.Now,
		log:      zap.S().Named("anac"),
	}
}

func (c *ANACCollector) Name() string { return NameANAC }

func (c *ANACCollector) Units() int { return 1 }

func (c *ANACCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	fetcher := NewRateLimitedFetcher(c.settings.HTTP)
	defer fetcher.Close()

	c.log.Info("starting collection")
	releases, err := c.fetchReleases(ctx, fetcher)
	if err != nil {
		metrics.IncreaseCollectorFailures(NameANAC)
		done("ANAC: errore")
		return nil, fmt.Errorf("anac collection failed: %w", err)
	}

	opps := make([]models.Opportunity, 0, len(releases))
	for _, r := range releases {
		opps = append(opps, c.toOpportunity(r))
	}
	c.log.Infow("collection finished", "opportunities", len(opps))
	metrics.AddCollectorItems(NameANAC, len(opps))
	done(fmt.Sprintf("ANAC: %d bandi", len(opps)))
	return opps, nil
}

func (c *ANACCollector) fetchReleases(ctx context.Context, fetcher *RateLimitedFetcher) ([]ocdsRelease, error) {
	year := c.now().Year()
	urls, err := c.resourceURLs(ctx, fetcher, year)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		c.log.Infow("no resources for current year, trying previous", "year", year, "fallback", year-1)
		if urls, err = c.resourceURLs(ctx, fetcher, year-1); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 {
		c.log.Warn("no JSON resources found")
		return nil, nil
	}

	// Resources are listed chronologically; the last one is the newest
	// monthly dump.
	latest := urls[len(urls)-1]
	c.log.Infow("downloading most recent resource", "resources", len(urls), "url", latest)
	return c.streamAndFilter(ctx, fetcher, latest)
}

// resourceURLs lists the JSON resources of the yearly CKAN package. A
// missing package yields no URLs and no error.
func (c *ANACCollector) resourceURLs(ctx context.Context, fetcher *RateLimitedFetcher, year int) ([]string, error) {
	packageID := fmt.Sprintf("%s-%d", c.cfg.PackagePrefix, year)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/3/action/package_show?id=" + url.QueryEscape(packageID)

	policy := NewRetryPolicy(c.cfg.Retry)
	req := Request{URL: endpoint, Header: http.Header{"Accept": {acceptJSON}}, Retry: &policy}

	var pkg ckanPackage
	err := fetcher.Execute(ctx, req, func(doc *FetchedDocument) error {
		body, err := io.ReadAll(io.LimitReader(doc.Body, defaultMaxBody))
		if err != nil {
			return err
		}
		if isWAFRejection(doc.ContentType, body) {
			c.log.Warnw("request blocked by WAF, retrying", "url", endpoint)
			return fmt.Errorf("waf rejection: %w", ErrTransient)
		}
		return json.Unmarshal(body, &pkg)
	})
	if errors.Is(err, ErrNotFound) {
		c.log.Infow("package not found, not retrying", "package", packageID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("package_show %s: %w", packageID, err)
	}

	var urls []string
	for _, r := range pkg.Result.Resources {
		if strings.EqualFold(r.Format, "JSON") && r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	c.log.Infow("resources listed", "package", packageID, "json_resources", len(urls))
	return urls, nil
}

// isWAFRejection recognizes the HTML interstitial served instead of JSON
// when the portal firewall blocks a request.
func isWAFRejection(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return false
	}
	head := body
	if len(head) > 200 {
		head = head[:200]
	}
	return bytes.Contains(head, []byte("Request Rejected"))
}

func (c *ANACCollector) streamAndFilter(ctx context.Context, fetcher *RateLimitedFetcher, resourceURL string) ([]ocdsRelease, error) {
	raw, err := c.download(ctx, fetcher, resourceURL)
	if errors.Is(err, errFileTooLarge) {
		c.log.Warnw("file too large, skipping", "url", resourceURL, "limit_bytes", c.cfg.MaxDownloadBytes)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", resourceURL, err)
	}
	c.log.Infow("download complete, parsing", "megabytes", fmt.Sprintf("%.1f", float64(len(raw))/(1<<20)))

	items, err := decodeReleases(raw)
	if err != nil {
		c.log.Warnw("failed to parse JSON, attempting salvage", "error", err)
		items, err = SalvageArray(raw, "releases")
		if err != nil {
			c.log.Warn("could not salvage any releases from truncated file")
			return nil, nil
		}
		c.log.Infow("salvaged releases from truncated download", "count", len(items))
	}
	return c.filterReleases(items), nil
}

// download streams the resource in fixed-size chunks, stopping at the byte
// ceiling. Files whose declared length exceeds the ceiling are refused.
func (c *ANACCollector) download(ctx context.Context, fetcher *RateLimitedFetcher, resourceURL string) ([]byte, error) {
	maxBytes := c.cfg.MaxDownloadBytes
	chunkSize := c.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 256 << 10
	}
	policy := NewRetryPolicy(c.cfg.StreamRetry)

	var buf bytes.Buffer
	req := Request{URL: resourceURL, Timeout: c.cfg.StreamTimeout, Retry: &policy, Header: http.Header{"Accept": {acceptJSON}}}
	err := fetcher.Execute(ctx, req, func(doc *FetchedDocument) error {
		buf.Reset()
		if maxBytes > 0 && doc.ContentLength > maxBytes {
			return errFileTooLarge
		}
		if doc.ContentLength > 0 {
			c.log.Infow("file size", "megabytes", doc.ContentLength>>20)
		}

		chunk := make([]byte, chunkSize)
		for {
			n, err := doc.Body.Read(chunk)
			buf.Write(chunk[:n])
			if maxBytes > 0 && int64(buf.Len()) > maxBytes {
				c.log.Warnw("download exceeded limit, stopping", "limit_bytes", maxBytes)
				return nil
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("stream read: %w", ErrTransient)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeReleases accepts an OCDS package ({"releases": [...]}) or a bare
// array of releases.
func decodeReleases(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var pkg struct {
		Releases []json.RawMessage `json:"releases"`
	}
	if err := json.Unmarshal(trimmed, &pkg); err != nil {
		return nil, err
	}
	return pkg.Releases, nil
}

// filterReleases keeps releases matching a CPV prefix and published after
// the lookback cutoff, stopping at the per-file cap.
func (c *ANACCollector) filterReleases(items []json.RawMessage) []ocdsRelease {
	since := c.settings.Today(c.now()).AddDate(0, 0, -c.settings.LookbackDays)
	limit := c.cfg.MaxReleasesPerFile

	var out []ocdsRelease
	for _, item := range items {
		if limit > 0 && len(out) >= limit {
			c.log.Infow("reached per-file release cap, stopping early", "cap", limit)
			break
		}
		var r ocdsRelease
		if err := json.Unmarshal(item, &r); err != nil || strings.TrimSpace(r.OCID) == "" {
			continue
		}
		if !c.matchesCPV(r) {
			continue
		}
		if pub := r.publicationDate(); pub != nil && pub.Before(since) {
			continue
		}
		out = append(out, r)
	}
	c.log.Infow("releases matched CPV and date filters", "matched", len(out), "total", len(items))
	return out
}

func (c *ANACCollector) matchesCPV(r ocdsRelease) bool {
	for _, code := range r.cpvCodes() {
		for _, prefix := range c.settings.CPVCodes {
			if strings.HasPrefix(code, prefix) {
				return true
			}
		}
	}
	return false
}

func (c *ANACCollector) toOpportunity(r ocdsRelease) models.Opportunity {
	t := r.Tender
	opp := models.Opportunity{
		ID:                   "ANAC-" + r.OCID,
		Title:                t.Description,
		Description:          r.description(),
		ContractingAuthority: r.Buyer.Name,
		Currency:             firstNonEmpty(t.Value.Currency, "EUR"),
		Country:              "IT",
		SourceURL:            r.sourceURL(),
		Source:               models.SourceANAC,
		Type:                 models.TypeTender,
		CPVCodes:             r.cpvCodes(),
	}
	if d, err := ParseDate(t.TenderPeriod.EndDate); err == nil {
		opp.Deadline = d
	}
	if d, err := ParseDate(t.TenderPeriod.StartDate); err == nil {
		opp.PublicationDate = d
	}
	if v, err := strconv.ParseFloat(scalarOrFirst(t.Value.Amount), 64); err == nil {
		opp.EstimatedValue = &v
	}
	return opp
}

func (r ocdsRelease) cpvCodes() []string {
	codes := []string{}
	for _, it := range r.Tender.Items {
		if id := strings.TrimSpace(it.Classification.ID); id != "" {
			codes = append(codes, id)
		}
	}
	return codes
}

// sourceURL is the first web document of the tender, else the dataset page
// keyed by ocid. Every release needs its own URL: deduplication keys on it.
func (r ocdsRelease) sourceURL() string {
	for _, d := range r.Tender.Documents {
		if u := strings.TrimSpace(d.URL); strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
	}
	return anacSourceURL + "?ocid=" + url.QueryEscape(r.OCID)
}

func (r ocdsRelease) publicationDate() *time.Time {
	raw := firstNonEmpty(r.Tender.TenderPeriod.StartDate, r.Date)
	d, err := ParseDate(raw)
	if err != nil {
		return nil
	}
	return d
}

// description joins the tender text with item and CPV descriptions.
func (r ocdsRelease) description() string {
	var parts []string
	desc := r.Tender.Description
	if desc != "" {
		parts = append(parts, desc)
	}
	for _, it := range r.Tender.Items {
		if it.Description != "" && it.Description != desc {
			parts = append(parts, it.Description)
		}
		if it.Classification.Description != "" {
			parts = append(parts, "CPV: "+it.Classification.Description)
		}
	}
	return strings.Join(parts, " | ")
}
