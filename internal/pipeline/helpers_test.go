package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/models"
)

// fixedNow is 2026-03-10 in Europe/Rome.
var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

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
	s.Classifier.Delay = 0
	s.Enricher.Delay = 0
	s.Checkpoint.Dir = t.TempDir()
	return *s
}

func tender(id, title, url string, deadline *time.Time) models.Opportunity {
	return models.Opportunity{
		ID: id, Title: title, SourceURL: url, Deadline: deadline,
		Type: models.TypeTender, Source: models.SourceTED, CPVCodes: []string{},
	}
}

func event(id, title string, date *time.Time) models.Opportunity {
	return models.Opportunity{
		ID: id, Title: title, SourceURL: "https://events.example/" + id, Deadline: date,
		Type: models.TypeEvent, Source: models.SourceEvent, CPVCodes: []string{},
	}
}

func scored(o models.Opportunity, score int) models.ClassifiedOpportunity {
	return models.ClassifiedOpportunity{
		Opportunity:    o,
		Classification: models.Classification{RelevanceScore: score, Category: models.CategoryOther},
	}
}

func ids(items []models.ClassifiedOpportunity) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Opportunity.ID
	}
	return out
}

type fakeCollector struct {
	name   string
	units  int
	opps   []models.Opportunity
	err    error
	panics bool
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Units() int { return f.units }

func (f *fakeCollector) Collect(ctx context.Context, done func(string)) ([]models.Opportunity, error) {
	for i := 0; i < f.units; i++ {
		done(f.name)
	}
	if f.panics {
		panic("boom")
	}
	return f.opps, f.err
}

// fakeClassifier scores by id; ids in fail return an error. With block set,
// calls wait for the context to end.
type fakeClassifier struct {
	mu      sync.Mutex
	scores  map[string]int
	dates   map[string]string
	fail    map[string]bool
	calls   []string
	block   bool
	started chan struct{}
	once    sync.Once
}

func (f *fakeClassifier) Classify(ctx context.Context, opp models.Opportunity) (*models.Classification, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opp.ID)
	f.mu.Unlock()

	if f.block {
		if f.started != nil {
			f.once.Do(func() { close(f.started) })
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail[opp.ID] {
		return nil, errors.New("model unavailable")
	}
	score := f.scores[opp.ID]
	if score == 0 {
		score = 5
	}
	return &models.Classification{
		RelevanceScore: score,
		Category:       models.CategoryAI,
		Reason:         "test",
		ExtractedDate:  f.dates[opp.ID],
	}, nil
}

func (f *fakeClassifier) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDates struct {
	mu     sync.Mutex
	answer map[string]*ai.DateExtraction
	texts  map[string]string
}

func (f *fakeDates) ExtractDate(ctx context.Context, pageURL, text string) (*ai.DateExtraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = make(map[string]string)
	}
	f.texts[pageURL] = text
	return f.answer[pageURL], nil
}

// recordingReporter keeps what it was told, for assertions.
type recordingReporter struct {
	mu     sync.Mutex
	begins []int
	ends   map[int]string
	items  []Progress
	finish string
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{ends: make(map[int]string)}
}

func (r *recordingReporter) StageBegin(stage, total int, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins = append(r.begins, stage)
}

func (r *recordingReporter) StageEnd(stage, total int, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends[stage] = summary
}

func (r *recordingReporter) ItemProgress(current, total int, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Progress{Current: current, Total: total, Label: label})
}

func (r *recordingReporter) Finish(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finish = summary
}
