package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/config"
)

func TestRetryPolicyDelayNonDecreasing(t *testing.T) {
	policies := map[string]RetryPolicy{
		"linear":      NewRetryPolicy(config.RetryConfig{MaxRetries: 6, BaseDelay: 2 * time.Second, Mode: "linear"}),
		"exponential": NewRetryPolicy(config.RetryConfig{MaxRetries: 6, BaseDelay: 2 * time.Second, Mode: "exponential"}),
		"default":     DefaultRetryPolicy(6),
	}
	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			prev := time.Duration(0)
			for attempt := 1; attempt <= p.MaxRetries; attempt++ {
				d := p.Delay(attempt)
				if d < prev {
					t.Fatalf("attempt %d: delay %v is shorter than previous %v", attempt, d, prev)
				}
				prev = d
			}
		})
	}
}

func TestRetryPolicyDelayValues(t *testing.T) {
	linear := RetryPolicy{BaseDelay: 3 * time.Second, Mode: BackoffLinear}
	assert.Equal(t, 3*time.Second, linear.Delay(1))
	assert.Equal(t, 9*time.Second, linear.Delay(3))

	exp := RetryPolicy{BaseDelay: time.Second, Mode: BackoffExponential}
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 4*time.Second, exp.Delay(3))
	assert.Zero(t, exp.Delay(0))
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy(3)
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", &HTTPStatusError{StatusCode: 404}, false},
		{"too many requests", &HTTPStatusError{StatusCode: 429}, true},
		{"bad gateway", &HTTPStatusError{StatusCode: 502}, true},
		{"forbidden", &HTTPStatusError{StatusCode: 403}, false},
		{"transient", fmt.Errorf("waf: %w", ErrTransient), true},
		{"canceled", context.Canceled, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"decode error", errors.New("invalid character '<'"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, 0))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("-1", now))
}

func fastFetcher() *RateLimitedFetcher {
	f := NewRateLimitedFetcher(config.FetchConfig{Timeout: 5 * time.Second, MaxRetries: 3, AllowPrivateHosts: true})
	f.retry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear}
	return f
}

func TestExecuteNotFoundIsNeverRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := fastFetcher()
	defer f.Close()

	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, hits.Load(), "a 404 must trigger zero retries")
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := fastFetcher()
	defer f.Close()

	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, hits.Load())
}

func TestExecuteHonorsRetryAfterOverBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := fastFetcher()
	defer f.Close()
	f.retry = RetryPolicy{MaxRetries: 2, BaseDelay: time.Minute, Mode: BackoffLinear}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	start := time.Now()
	body, err := f.Get(ctx, srv.URL)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 2, hits.Load())
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second, "the one-minute backoff must not be used")
}

func TestRetryPolicyWaitUsesRetryAfter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Hour, Mode: BackoffExponential, Jitter: time.Second}

	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), 3, 20*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx, 1, 0), context.Canceled)
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := fastFetcher()
	defer f.Close()

	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.EqualValues(t, 4, hits.Load())
}

func TestExecuteRejectsPrivateHostsByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secret")
	}))
	defer srv.Close()

	f := NewRateLimitedFetcher(config.FetchConfig{Timeout: time.Second})
	f.retry = RetryPolicy{}
	defer f.Close()

	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked private IP")
}
