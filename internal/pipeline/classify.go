package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// Classifier is the external relevance judgment, one call per item.
type Classifier interface {
	Classify(ctx context.Context, opp models.Opportunity) (*models.Classification, error)
}

// ClassifyRunner submits items one at a time with a fixed pause between
// calls and records every result in the checkpoint as soon as it arrives.
type ClassifyRunner struct {
	classifier Classifier
	delay      time.Duration
	// OnClassified, when set, is called after each new result is recorded.
	OnClassified func(models.ClassifiedOpportunity)
	log          *zap.SugaredLogger
}

func NewClassifyRunner(classifier Classifier, delay time.Duration) *ClassifyRunner {
	return &ClassifyRunner{
		classifier: classifier,
		delay:      delay,
		log:        zap.S().Named("classifier"),
	}
}

// Run classifies opps. With a checkpoint, ids already in its classified
// index are not sent again and their recorded results are returned first.
// Items whose call fails are dropped. A context error stops the loop and is
// returned together with the results gathered so far.
func (r *ClassifyRunner) Run(ctx context.Context, opps []models.Opportunity, run *checkpoint.Run, reporter Reporter) ([]models.ClassifiedOpportunity, error) {
	results := []models.ClassifiedOpportunity{}
	alreadyDone := map[string]struct{}{}

	if run != nil {
		ids, err := run.ClassifiedIDs()
		if err != nil {
			return nil, fmt.Errorf("failed to read classified ids: %w", err)
		}
		if len(ids) > 0 {
			cached, err := run.LoadClassified()
			if err != nil {
				return nil, fmt.Errorf("failed to load classified results: %w", err)
			}
			alreadyDone = ids
			results = append(results, cached...)
			r.log.Infow("resuming classification", "cached", len(ids), "remaining", max(len(opps)-len(ids), 0))
		}
	}

	total := len(opps)
	calls := 0
	for i, opp := range opps {
		if _, ok := alreadyDone[opp.ID]; ok {
			metrics.IncreaseClassificationCalls("cached")
			reporter.ItemProgress(i+1, total, "(cached) "+truncateRunes(opp.Title, 40))
			continue
		}

		if calls > 0 {
			if err := sleepCtx(ctx, r.delay); err != nil {
				return results, err
			}
		}
		calls++
		reporter.ItemProgress(i+1, total, truncateRunes(opp.Title, 40))
		r.log.Infof("classifying %d/%d: %s", i+1, total, truncateRunes(opp.Title, 80))

		c, err := r.classifier.Classify(ctx, opp)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			r.log.Warnw("classification failed, item dropped", "id", opp.ID, "error", err)
			continue
		}
		if c == nil {
			r.log.Warnw("empty classification, item dropped", "id", opp.ID)
			continue
		}

		item := models.ClassifiedOpportunity{Opportunity: opp, Classification: *c}
		if run != nil {
			if err := run.AppendClassified(item); err != nil {
				return results, fmt.Errorf("failed to record classification of %s: %w", opp.ID, err)
			}
		}
		results = append(results, item)
		if r.OnClassified != nil {
			r.OnClassified(item)
		}
	}
	return results, nil
}

var extractedDateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05", "02/01/2006"}

// PatchExtractedDates gives items without a deadline the date the
// classification found in their text. It returns how many were patched.
func PatchExtractedDates(items []models.ClassifiedOpportunity) int {
	patched := 0
	for i := range items {
		if items[i].Opportunity.Deadline != nil {
			continue
		}
		raw := strings.TrimSpace(items[i].Classification.ExtractedDate)
		if raw == "" {
			continue
		}
		if len(raw) > 19 {
			raw = raw[:19]
		}
		for _, layout := range extractedDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				items[i].Opportunity.Deadline = models.DatePtr(t)
				patched++
				break
			}
		}
	}
	return patched
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
