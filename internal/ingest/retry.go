package ingest

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/david/opportunity-monitor/internal/config"
)

type BackoffMode int

const (
	// BackoffLinear waits base*attempt.
	BackoffLinear BackoffMode = iota
	// BackoffExponential waits base*2^(attempt-1).
	BackoffExponential
)

// ErrTransient marks a response that looked successful at the HTTP level but
// must be retried (WAF interstitials, truncated reads).
var ErrTransient = errors.New("transient response")

// RetryPolicy decides whether and how long to wait before another attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Mode       BackoffMode
	// Jitter is capped at BaseDelay so waits stay non-decreasing.
	Jitter time.Duration
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Mode:       BackoffLinear,
	}
	if strings.EqualFold(cfg.Mode, "exponential") {
		p.Mode = BackoffExponential
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	return p
}

// DefaultRetryPolicy mirrors the general-purpose fetch behaviour:
// 0.5s, 1s, 2s plus up to 100ms jitter.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		Mode:       BackoffExponential,
		Jitter:     100 * time.Millisecond,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	switch p.Mode {
	case BackoffExponential:
		shift := attempt - 1
		if shift > 16 {
			shift = 16
		}
		return p.BaseDelay * time.Duration(1<<uint(shift))
	default:
		return p.BaseDelay * time.Duration(attempt)
	}
}

// ShouldRetry determines if an error or status code should trigger a retry.
// 404 is permanent and never retried.
func (p RetryPolicy) ShouldRetry(err error, statusCode int) bool {
	if statusCode == http.StatusNotFound {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if errors.Is(err, ErrTransient) || errors.Is(err, io.ErrUnexpectedEOF) {
			return true
		}
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return p.ShouldRetry(nil, statusErr.StatusCode)
		}
		return isTimeout(err) || isConnectionError(err)
	}

	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Wait sleeps before retry number attempt. A positive retryAfter from the
// server replaces the computed backoff.
func (p RetryPolicy) Wait(ctx context.Context, attempt int, retryAfter time.Duration) error {
	d := p.Delay(attempt)
	if retryAfter > 0 {
		d = retryAfter
	} else if p.Jitter > 0 {
		j := p.Jitter
		if j > p.BaseDelay {
			j = p.BaseDelay
		}
		d += time.Duration(rand.Int63n(int64(j) + 1))
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "eof", "tls handshake"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
