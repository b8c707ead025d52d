package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

var resultsCommand = &cobra.Command{
	Use:   "results [checkpoint-id]",
	Short: "Print the ranked results of a checkpoint (the newest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  resultsCmd,
}

var (
	resultsMinScore int
	resultsJSON     bool
)

func init() {
	resultsCommand.Flags().IntVar(&resultsMinScore, "min-score", -1, "Minimum relevance score (defaults to the configured threshold)")
	resultsCommand.Flags().BoolVar(&resultsJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(resultsCommand)
}

func resultsCmd(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store := checkpoint.NewStore(settings.Checkpoint.Dir, settings.Location())

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		list, err := store.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("no checkpoints in %s", store.Root())
		}
		id = list[0].RunID
	}

	run, err := store.Open(id)
	if err != nil {
		return err
	}
	classified, err := run.LoadClassified()
	if err != nil {
		return err
	}

	minScore := resultsMinScore
	if minScore < 0 {
		minScore = settings.RelevanceThreshold
	}
	ranked := pipeline.FinalizeResults(classified, settings.Today(time.Now()), settings.EventDedup.SimilarityThreshold)
	items := pipeline.Relevant(ranked, minScore)

	if resultsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	fmt.Fprintf(os.Stderr, "%s: %d of %d ranked results with score >= %d\n", id, len(items), len(ranked), minScore)
	renderResults(os.Stdout, items, settings.RelevanceThreshold)
	return nil
}
