package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/opportunity-monitor/internal/ingest"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// Collect runs every collector concurrently and concatenates their results
// in collector order. A collector that fails or panics contributes nothing;
// its siblings are not cancelled. An empty result is not an error.
func Collect(ctx context.Context, collectors []ingest.Collector, reporter Reporter) []models.Opportunity {
	log := zap.S().Named("orchestrator")
	if len(collectors) == 0 {
		log.Warnw("all collectors are disabled")
		return nil
	}

	names := make([]string, len(collectors))
	totalUnits := 0
	for i, c := range collectors {
		names[i] = c.Name()
		totalUnits += c.Units()
	}
	reporter.StageBegin(StageCollect, TotalStages, strings.Join(names, " + "))

	var mu sync.Mutex
	completed := 0
	done := func(label string) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		reporter.ItemProgress(completed, max(totalUnits, completed), label)
	}

	results := make([][]models.Opportunity, len(collectors))
	// Plain Group: a failing collector must not cancel the others.
	var g errgroup.Group
	for i, c := range collectors {
		g.Go(func() error {
			results[i] = runCollector(ctx, c, done, log)
			return nil
		})
	}
	_ = g.Wait()

	var out []models.Opportunity
	var counts []string
	for i, r := range results {
		if len(r) == 0 {
			continue
		}
		out = append(out, r...)
		counts = append(counts, fmt.Sprintf("%s: %d", names[i], len(r)))
	}
	summary := "nessuno"
	if len(counts) > 0 {
		summary = strings.Join(counts, ", ")
	}
	reporter.StageEnd(StageCollect, TotalStages, fmt.Sprintf("%d raccolti (%s)", len(out), summary))
	return out
}

func runCollector(ctx context.Context, c ingest.Collector, done func(string), log *zap.SugaredLogger) (opps []models.Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("collector panicked", "collector", c.Name(), "panic", r, "stack", string(debug.Stack()))
			metrics.IncreaseCollectorFailures(c.Name())
			opps = nil
		}
	}()

	opps, err := c.Collect(ctx, done)
	if err != nil {
		log.Errorw("collector failed", "collector", c.Name(), "error", err)
		metrics.IncreaseCollectorFailures(c.Name())
		return nil
	}
	log.Infow("collector finished", "collector", c.Name(), "opportunities", len(opps))
	return opps
}
