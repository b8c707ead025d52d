package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/metrics"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptHTML       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON       = "application/json, text/html, */*"

	defaultMaxBody = 16 << 20
)

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

// ErrNotFound is matched by HTTPStatusError for 404 responses.
var ErrNotFound = errors.New("resource not found")

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL           string
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
	FetchedAt     time.Time
	Headers       http.Header
}

// Request describes one logical call; attempts are retried per Retry.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Header  http.Header
	Timeout time.Duration
	// Retry overrides the fetcher policy for this request.
	Retry *RetryPolicy
}

// RateLimitedFetcher provides per-host pacing, retries and timeouts. Each
// collector owns one and must Close it when done.
type RateLimitedFetcher struct {
	client   *http.Client
	limiters map[string]*rate.Limiter
	config   config.FetchConfig
	retry    RetryPolicy
	mu       sync.Mutex
	log      *zap.SugaredLogger
}

// NewRateLimitedFetcher creates a fetcher with its own connection pool.
func NewRateLimitedFetcher(cfg config.FetchConfig) *RateLimitedFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7"
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{Transport: transport}
	if !cfg.AllowPrivateHosts {
		transport.DialContext = safeDialContext
		client.CheckRedirect = safeCheckRedirect
	}

	return &RateLimitedFetcher{
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		retry:    DefaultRetryPolicy(cfg.MaxRetries),
		log:      zap.S().Named("http"),
	}
}

// Client exposes the underlying client so crawlers can share the pool.
func (f *RateLimitedFetcher) Client() *http.Client {
	return f.client
}

// Close releases idle connections held by this fetcher.
func (f *RateLimitedFetcher) Close() {
	f.client.CloseIdleConnections()
}

func (f *RateLimitedFetcher) limiter(host string) *rate.Limiter {
	if f.config.RateLimitRPS <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.config.RateLimitRPS), 1)
		f.limiters[host] = l
	}
	return l
}

// Execute sends req, retrying per policy. On a 2xx response consume is called
// with the open document; the body is closed afterwards. An error from consume
// that the policy deems transient triggers another attempt.
func (f *RateLimitedFetcher) Execute(ctx context.Context, req Request, consume func(*FetchedDocument) error) error {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL %q", req.URL)
	}

	policy := f.retry
	if req.Retry != nil {
		policy = *req.Retry
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			var retryAfter time.Duration
			var statusErr *HTTPStatusError
			if errors.As(lastErr, &statusErr) {
				retryAfter = statusErr.RetryAfter
			}
			metrics.IncreaseHTTPRetries(retryReason(lastErr))
			f.log.Debugw("retrying request", "url", req.URL, "attempt", attempt, "error", lastErr)
			if err := policy.Wait(ctx, attempt, retryAfter); err != nil {
				return err
			}
		}

		if l := f.limiter(u.Host); l != nil {
			if err := l.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = f.attempt(ctx, method, req, timeout, consume)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !policy.ShouldRetry(lastErr, 0) {
			return lastErr
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (f *RateLimitedFetcher) attempt(ctx context.Context, method string, req Request, timeout time.Duration, consume func(*FetchedDocument) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", browserUserAgent)
	httpReq.Header.Set("Accept", acceptHTML)
	httpReq.Header.Set("Accept-Language", f.config.AcceptLanguage)
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        req.URL,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if consume == nil {
		return nil
	}
	return consume(&FetchedDocument{
		URL:           req.URL,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
		FetchedAt:     time.Now(),
		Headers:       resp.Header,
	})
}

// Get fetches rawURL and returns at most defaultMaxBody bytes.
func (f *RateLimitedFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	err := f.Execute(ctx, Request{URL: rawURL}, func(doc *FetchedDocument) error {
		var err error
		data, err = io.ReadAll(io.LimitReader(doc.Body, defaultMaxBody))
		return err
	})
	return data, err
}

// GetJSON decodes a JSON response into out.
func (f *RateLimitedFetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	req := Request{URL: rawURL, Header: http.Header{"Accept": {acceptJSON}}}
	return f.Execute(ctx, req, func(doc *FetchedDocument) error {
		return json.NewDecoder(io.LimitReader(doc.Body, defaultMaxBody)).Decode(out)
	})
}

// PostJSON sends in as a JSON body and decodes the response into out.
func (f *RateLimitedFetcher) PostJSON(ctx context.Context, rawURL string, in, out any, policy *RetryPolicy) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req := Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Body:   payload,
		Header: http.Header{"Accept": {"application/json"}},
		Retry:  policy,
	}
	return f.Execute(ctx, req, func(doc *FetchedDocument) error {
		if out == nil {
			return nil
		}
		return json.NewDecoder(doc.Body).Decode(out)
	})
}

func retryReason(err error) string {
	var statusErr *HTTPStatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case errors.As(err, &statusErr):
		return "server_error"
	case errors.Is(err, ErrTransient):
		return "transient"
	case err != nil && isTimeout(err):
		return "timeout"
	default:
		return "network"
	}
}

// safeDialContext wraps the default dialer to block private IPs
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}

	return d.DialContext(ctx, network, addr)
}

// isPrivateIP checks if an IP is in a private range or loopback/link-local
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

// safeCheckRedirect limits redirects and validates destinations
func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil {
		return fmt.Errorf("invalid redirect URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}

	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("redirect host missing")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}
	return nil
}
