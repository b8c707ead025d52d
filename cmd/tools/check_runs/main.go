package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/db"
)

func main() {
	status := flag.String("status", "", "Only runs with this status (completed, failed, cancelled, timed_out)")
	limit := flag.Int("limit", 10, "Number of runs to show")
	flag.Parse()

	secrets, err := app.LoadEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	log := zap.S().Named("check-runs")

	ctx := context.Background()
	pool, err := db.Connect(ctx, secrets.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListRuns(ctx, db.ListRunsParams{Status: *status, Limit: *limit})
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Checkpoint", "Status", "Collected", "Classified", "Relevant", "Duration", "Started At", "Error"})

	for _, r := range runs {
		duration := "Running..."
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.ID[:min(8, len(r.ID))], r.CheckpointID, r.Status,
			r.Collected, r.Classified, r.Relevant,
			duration, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Error,
		})
	}
	t.Render()
}
