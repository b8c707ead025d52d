// Package pipeline runs collection, deduplication, filtering,
// classification, date enrichment and event deduplication as one resumable
// run over a checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/ingest"
	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// Deps are the collaborators of an Engine. Archiver is optional.
type Deps struct {
	Collectors []ingest.Collector
	Classifier Classifier
	Dates      DateExtractor
	Store      *checkpoint.Store
	Archiver   checkpoint.Archiver
}

// Options select how one run starts.
type Options struct {
	// UseCache resumes the newest incomplete checkpoint when there is one.
	UseCache bool
	// ResumeRunID resumes that checkpoint; it must exist.
	ResumeRunID  string
	ExcludedURLs []string
	OnClassified func(models.ClassifiedOpportunity)
}

type Result struct {
	RunID   string
	Resumed bool

	Collected  int
	Classified int
	// Items are the final results ranked by score; Relevant is the prefix
	// at or above the relevance threshold.
	Items    []models.ClassifiedOpportunity
	Relevant []models.ClassifiedOpportunity

	Elapsed time.Duration
}

type Engine struct {
	settings config.Settings
	deps     Deps
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewEngine(settings config.Settings, deps Deps) *Engine {
	return &Engine{
		settings: settings,
		deps:     deps,
		now:      time.Now,
		log:      zap.S().Named("pipeline"),
	}
}

// Run executes the six stages. On cancellation the checkpoint is left at its
// last recorded stage and ctx.Err() is returned with the partial result.
func (e *Engine) Run(ctx context.Context, opts Options, reporter Reporter) (*Result, error) {
	if reporter == nil {
		reporter = NopReporter{}
	}
	reporter = MultiReporter{reporter, metrics.NewStageReporter()}

	start := e.now()
	res := &Result{}
	defer func() { res.Elapsed = e.now().Sub(start) }()

	run, opps, err := e.resume(opts)
	if err != nil {
		return res, err
	}

	if run != nil {
		res.Resumed = true
		for stage := StageCollect; stage <= StageFilter; stage++ {
			reporter.StageBegin(stage, TotalStages, "ripresa da cache")
			reporter.StageEnd(stage, TotalStages, fmt.Sprintf("%d dalla cache", len(opps)))
		}
	} else {
		opps = Collect(ctx, e.deps.Collectors, reporter)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(opps) == 0 {
			reporter.Finish("nessun dato")
			return res, nil
		}

		opps = e.dedup(opps, opts.ExcludedURLs, reporter)

		reporter.StageBegin(StageFilter, TotalStages, "rimozione scaduti")
		before := len(opps)
		opps = FilterFuture(opps, e.settings.Today(e.now()))
		reporter.StageEnd(StageFilter, TotalStages,
			fmt.Sprintf("%d attivi, %d scaduti rimossi", len(opps), before-len(opps)))
		if len(opps) == 0 {
			reporter.Finish("nessun elemento attivo")
			return res, nil
		}

		run, err = e.deps.Store.Create()
		if err != nil {
			return res, err
		}
		if err := run.SaveCollected(opps); err != nil {
			return res, err
		}
		if err := e.saveStage(run, checkpoint.StageCollected, map[string]int{"collected": len(opps)}); err != nil {
			return res, err
		}
	}
	res.RunID = run.ID()
	res.Collected = len(opps)

	lock, err := run.Lock(e.settings.Checkpoint.LockTTL)
	if err != nil {
		return res, err
	}
	defer lock.Release()

	classified, err := e.classify(ctx, run, opps, opts, reporter)
	res.Classified = len(classified)
	if err != nil {
		return res, err
	}

	if err := e.enrich(ctx, run, classified, reporter); err != nil {
		return res, err
	}

	reporter.StageBegin(StageFinalize, TotalStages, "finalizzazione")
	final := FinalizeResults(classified, e.settings.Today(e.now()), e.settings.EventDedup.SimilarityThreshold)
	res.Items = final
	res.Relevant = Relevant(final, e.settings.RelevanceThreshold)
	if err := e.saveStage(run, checkpoint.StageComplete, map[string]int{
		"collected":  len(opps),
		"classified": len(classified),
		"final":      len(final),
		"relevant":   len(res.Relevant),
	}); err != nil {
		return res, err
	}
	summary := fmt.Sprintf("%d rilevanti su %d", len(res.Relevant), len(opps))
	reporter.StageEnd(StageFinalize, TotalStages, summary)

	lock.Release()
	e.archive(ctx, run)

	reporter.Finish(fmt.Sprintf("%d rilevanti su %d analizzati", len(res.Relevant), len(opps)))
	return res, nil
}

// resume returns the checkpoint to continue and its collected set, or a nil
// run when collection must start from scratch.
func (e *Engine) resume(opts Options) (*checkpoint.Run, []models.Opportunity, error) {
	var run *checkpoint.Run
	switch {
	case opts.ResumeRunID != "":
		r, err := e.deps.Store.Open(opts.ResumeRunID)
		if err != nil {
			return nil, nil, err
		}
		run = r
	case opts.UseCache:
		r, err := e.deps.Store.FindLatestResumable()
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		run = r
	default:
		return nil, nil, nil
	}

	opps, err := run.LoadCollected()
	if err != nil {
		if opts.ResumeRunID == "" && errors.Is(err, checkpoint.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if len(opps) == 0 && opts.ResumeRunID == "" {
		return nil, nil, nil
	}

	if meta, err := run.LoadMetadata(); err == nil && meta.SettingsHash != "" && meta.SettingsHash != e.settings.Hash() {
		e.log.Warnw("resuming a run collected with different settings", "run_id", run.ID())
	}
	e.log.Infow("resuming from checkpoint", "run_id", run.ID(), "collected", len(opps))
	return run, opps, nil
}

func (e *Engine) dedup(opps []models.Opportunity, excludedURLs []string, reporter Reporter) []models.Opportunity {
	reporter.StageBegin(StageDedup, TotalStages, "deduplicazione")
	before := len(opps)
	opps = Deduplicate(opps)
	removed := before - len(opps)

	opps, excluded := ExcludeURLs(opps, ExcludedSet(excludedURLs))
	summary := fmt.Sprintf("%d unici, %d duplicati rimossi", len(opps), removed)
	if excluded > 0 {
		summary += fmt.Sprintf(", %d esclusi da agenda", excluded)
	}
	reporter.StageEnd(StageDedup, TotalStages, summary)
	return opps
}

func (e *Engine) classify(ctx context.Context, run *checkpoint.Run, opps []models.Opportunity, opts Options, reporter Reporter) ([]models.ClassifiedOpportunity, error) {
	reporter.StageBegin(StageClassify, TotalStages,
		fmt.Sprintf("classificazione con %s %s", e.settings.LLM.Provider, e.settings.LLM.Model))
	if err := e.saveStage(run, checkpoint.StageClassifying, map[string]int{"collected": len(opps)}); err != nil {
		return nil, err
	}

	runner := NewClassifyRunner(e.deps.Classifier, e.settings.Classifier.Delay)
	runner.OnClassified = opts.OnClassified
	classified, err := runner.Run(ctx, opps, run, reporter)
	if err != nil {
		return classified, err
	}
	if err := e.saveStage(run, checkpoint.StageClassified, map[string]int{
		"collected":  len(opps),
		"classified": len(classified),
	}); err != nil {
		return classified, err
	}
	if n := PatchExtractedDates(classified); n > 0 {
		e.log.Infow("deadlines taken from classification", "patched", n)
	}
	reporter.StageEnd(StageClassify, TotalStages, fmt.Sprintf("%d classificati", len(classified)))
	return classified, nil
}

func (e *Engine) enrich(ctx context.Context, run *checkpoint.Run, classified []models.ClassifiedOpportunity, reporter Reporter) error {
	missing := MissingDates(classified)
	if missing == 0 || !e.settings.Enricher.Enabled || e.deps.Dates == nil {
		reporter.StageBegin(StageEnrich, TotalStages, "tutte le date presenti")
		reporter.StageEnd(StageEnrich, TotalStages, "nessun arricchimento")
	} else {
		reporter.StageBegin(StageEnrich, TotalStages, fmt.Sprintf("%d date mancanti da recuperare", missing))
		patched, err := NewDateEnricher(e.settings, e.deps.Dates).Enrich(ctx, classified, reporter)
		if err != nil {
			return err
		}
		reporter.StageEnd(StageEnrich, TotalStages, fmt.Sprintf("%d date estratte", patched))
	}

	// Deadlines may have changed in memory; keep the log in step.
	if err := run.RewriteClassified(classified); err != nil {
		return err
	}
	return e.saveStage(run, checkpoint.StageEnriched, map[string]int{"classified": len(classified)})
}

func (e *Engine) saveStage(run *checkpoint.Run, stage checkpoint.Stage, counts map[string]int) error {
	return run.SaveMetadata(stage, e.settings.Hash(), counts)
}

func (e *Engine) archive(ctx context.Context, run *checkpoint.Run) {
	if e.deps.Archiver == nil {
		return
	}
	if err := e.deps.Archiver.Archive(ctx, run); err != nil {
		e.log.Warnw("checkpoint archive failed", "run_id", run.ID(), "error", err)
	}
}

// FinalizeResults applies the post-enrichment expiry pass and event
// deduplication, then ranks by score.
func FinalizeResults(items []models.ClassifiedOpportunity, today time.Time, similarity float64) []models.ClassifiedOpportunity {
	out := FilterPast(items, today)
	out = DedupEvents(out, similarity)
	Rank(out)
	return out
}

// Rank sorts by score, highest first, keeping the order of equal scores.
func Rank(items []models.ClassifiedOpportunity) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score() > items[j].Score() })
}

// Relevant returns the ranked items scoring at least threshold.
func Relevant(ranked []models.ClassifiedOpportunity, threshold int) []models.ClassifiedOpportunity {
	out := []models.ClassifiedOpportunity{}
	for _, item := range ranked {
		if item.Score() >= threshold {
			out = append(out, item)
		}
	}
	return out
}
