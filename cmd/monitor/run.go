package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: collect, deduplicate, filter, classify, enrich and rank",
	Long: `Runs the six pipeline stages and prints the relevant results.

By default the newest incomplete checkpoint is resumed so that items already
classified are not sent to the LLM again. Use --no-cache to start fresh or
--resume to continue a specific checkpoint.`,
	RunE: runPipelineCmd,
}

var (
	runResume   string
	runNoCache  bool
	runTimeout  time.Duration
	runExcluded []string
	runAll      bool
)

func init() {
	runCommand.Flags().StringVar(&runResume, "resume", "", "Checkpoint id to resume (e.g. run_20260310_093005)")
	runCommand.Flags().BoolVar(&runNoCache, "no-cache", false, "Ignore incomplete checkpoints and start a new run")
	runCommand.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the run after this duration (0 means no limit)")
	runCommand.Flags().StringSliceVar(&runExcluded, "exclude", nil, "Source URLs to drop before classification (repeatable)")
	runCommand.Flags().BoolVar(&runAll, "all", false, "Print every ranked result instead of only the relevant ones")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	log := zap.S().Named("monitor")

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, *settings, secrets)
	if err != nil {
		return err
	}
	defer a.Close()

	history, closeDB, err := app.OpenHistory(ctx, secrets)
	if err != nil {
		log.Warnw("run history disabled", "error", err)
		history, closeDB = nil, func() {}
	}
	defer closeDB()

	if history != nil {
		stored, err := history.ExcludedURLs(ctx)
		if err != nil {
			log.Warnw("could not load excluded urls", "error", err)
		}
		runExcluded = append(runExcluded, stored...)
	}

	terminal := pipeline.NewTerminalReporter(os.Stderr)
	var result *pipeline.Result
	registry := pipeline.NewRegistry(
		func(ctx context.Context, opts pipeline.Options, rep pipeline.Reporter) (*pipeline.Result, error) {
			res, err := a.Engine.Run(ctx, opts, pipeline.MultiReporter{rep, terminal})
			result = res
			return res, err
		},
		0,
		app.PersistFunc(history),
	)

	fmt.Fprintf(os.Stderr, "Scope: %s\n", settings.ScopeSummary())
	snap, err := registry.Start(ctx, pipeline.StartRequest{
		Options: pipeline.Options{
			UseCache:     !runNoCache && runResume == "",
			ResumeRunID:  runResume,
			ExcludedURLs: runExcluded,
		},
		Timeout: runTimeout,
	})
	if err != nil {
		return err
	}

	// The registry detaches runs from ctx; an interrupt becomes a
	// cooperative stop so the checkpoint is left resumable.
	go func() {
		<-ctx.Done()
		_, _ = registry.Stop(snap.ID)
	}()

	final, err := registry.Wait(context.Background(), snap.ID)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr)
	if final.CheckpointID != "" {
		fmt.Fprintf(os.Stderr, "Checkpoint: %s\n", final.CheckpointID)
	}
	if final.Status != pipeline.StatusCompleted {
		if final.CheckpointID != "" {
			fmt.Fprintf(os.Stderr, "Resume with: monitor run --resume %s\n", final.CheckpointID)
		}
		return fmt.Errorf("run %s: %s", final.Status, final.Error)
	}
	if result == nil || result.RunID == "" {
		fmt.Println("No opportunities collected.")
		return nil
	}

	items := result.Relevant
	if runAll {
		items = result.Items
	}
	renderResults(os.Stdout, items, settings.RelevanceThreshold)
	fmt.Fprintf(os.Stderr, "%d relevant of %d classified in %s\n",
		len(result.Relevant), result.Classified, result.Elapsed.Round(time.Second))
	return nil
}
