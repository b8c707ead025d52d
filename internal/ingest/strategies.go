package ingest

import (
	"context"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/models"
)

// Collector fetches and normalizes the opportunities of one source kind.
//
// Collect reports each finished unit of work (a feed, a seed page, a query)
// through done. Failures inside a collector are logged and produce a partial
// result; a returned error means nothing usable was collected.
type Collector interface {
	Name() string
	// Units is the number of times Collect will call done.
	Units() int
	Collect(ctx context.Context, done func(label string)) ([]models.Opportunity, error)
}

// PageAI is the subset of the AI service the web collectors depend on.
type PageAI interface {
	SelectLinks(ctx context.Context, kind ai.LinkKind, seedURL string, links []string) ([]string, error)
	ExtractEvents(ctx context.Context, pageURL, text string) ([]ai.ExtractedEvent, error)
	ExtractTender(ctx context.Context, pageURL, text string, links []string) (*ai.ExtractedTender, error)
	SearchWeb(ctx context.Context, query string, maxResults int) ([]ai.SearchHit, error)
	ExtractSearchPage(ctx context.Context, pageURL, text string) (*ai.SearchExtraction, error)
}

func noopDone(string) {}
