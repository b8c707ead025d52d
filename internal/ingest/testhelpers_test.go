package ingest

import (
	"testing"
	"time"

	"github.com/david/opportunity-monitor/internal/config"
)

// fixedNow is the clock used by collector tests.
var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// testSettings returns the embedded defaults tuned for httptest servers:
// loopback allowed, no pacing and millisecond retry delays.
func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := config.Default()
	if err != nil {
		t.Fatalf("failed to load default settings: %v", err)
	}
	s.HTTP.AllowPrivateHosts = true
	s.HTTP.RateLimitRPS = 0
	s.HTTP.MaxRetries = 0
	s.HTTP.Timeout = 5 * time.Second

	fast := config.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Mode: "linear"}
	s.Collectors.TED.Retry = fast
	s.Collectors.TED.PageDelay = 0
	s.Collectors.ANAC.Retry = fast
	s.Collectors.ANAC.StreamRetry = fast
	s.Collectors.WebEvents.Delay = 0
	s.Collectors.WebTenders.Delay = 0
	s.Collectors.WebSearch.Delay = 0
	return *s
}

// recordDone collects progress labels; safe for the feed collector's
// concurrent callbacks.
type recordDone struct {
	labels chan string
}

func newRecordDone(n int) *recordDone {
	return &recordDone{labels: make(chan string, n)}
}

func (r *recordDone) done(label string) { r.labels <- label }

func (r *recordDone) all() []string {
	close(r.labels)
	var out []string
	for l := range r.labels {
		out = append(out, l)
	}
	return out
}
