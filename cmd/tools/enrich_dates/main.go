package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

func main() {
	runID := flag.String("run", "", "Checkpoint id (defaults to the newest checkpoint)")
	configPath := flag.String("config", "", "Path to settings YAML")
	dryRun := flag.Bool("dry-run", false, "Report missing deadlines without fetching pages")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall timeout")
	flag.Parse()

	secrets, err := app.LoadEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	log := zap.S().Named("enrich-dates")

	settings, err := app.LoadSettings(*configPath, secrets)
	if err != nil {
		log.Fatal(err)
	}
	store := checkpoint.NewStore(settings.Checkpoint.Dir, settings.Location())

	id := *runID
	if id == "" {
		list, err := store.List()
		if err != nil || len(list) == 0 {
			log.Fatalf("no checkpoints in %s", store.Root())
		}
		id = list[0].RunID
	}

	run, err := store.Open(id)
	if err != nil {
		log.Fatal(err)
	}
	items, err := run.LoadClassified()
	if err != nil {
		log.Fatal(err)
	}

	missing := pipeline.MissingDates(items)
	fmt.Printf("%s: %d classified, %d without deadline\n", id, len(items), missing)
	if *dryRun || missing == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, *settings, secrets)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	lock, err := run.Lock(settings.Checkpoint.LockTTL)
	if err != nil {
		log.Fatalf("cannot lock %s: %v", id, err)
	}
	defer lock.Release()

	reporter := pipeline.NewTerminalReporter(os.Stderr)
	reporter.StageBegin(pipeline.StageEnrich, pipeline.TotalStages, fmt.Sprintf("%d senza scadenza", missing))
	patched, err := pipeline.NewDateEnricher(*settings, a.AI).Enrich(ctx, items, reporter)
	reporter.StageEnd(pipeline.StageEnrich, pipeline.TotalStages, fmt.Sprintf("%d date trovate", patched))
	if err != nil {
		log.Errorw("enrichment interrupted", "error", err)
	}

	if patched > 0 {
		if err := run.RewriteClassified(items); err != nil {
			log.Fatalf("failed to rewrite classified log: %v", err)
		}
	}
	fmt.Printf("%d deadlines added\n", patched)
}
