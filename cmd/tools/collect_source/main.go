package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/ingest"
	"github.com/david/opportunity-monitor/internal/models"
)

func main() {
	name := flag.String("source", "", "Collector to run: "+strings.Join(ingest.Names(), ", "))
	configPath := flag.String("config", "", "Path to settings YAML")
	asJSON := flag.Bool("json", false, "Print the normalized opportunities as JSON")
	flag.Parse()

	secrets, err := app.LoadEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	log := zap.S().Named("collect-source")

	if *name == "" {
		log.Fatalf("please provide a collector with -source (%s)", strings.Join(ingest.Names(), ", "))
	}

	settings, err := app.LoadSettings(*configPath, secrets)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	// Web collectors need the AI service; the API collectors run without it.
	var pageAI ingest.PageAI
	if gen, err := ai.NewGenerator(ctx, settings.LLM, secrets); err == nil {
		defer gen.Close()
		pageAI = ai.NewService(gen, settings.CompanyProfile, settings.Classifier.Temperature)
	} else {
		log.Warnw("AI service unavailable, web collectors disabled", "error", err)
	}

	collector, err := ingest.NewRegistry(*settings, pageAI).Build(*name)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("starting collection for %s (%d units)", collector.Name(), collector.Units())
	opps, err := collector.Collect(ctx, func(label string) { log.Infof("done: %s", label) })
	if err != nil {
		log.Fatalf("collection failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(opps); err != nil {
			log.Fatal(err)
		}
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Type", "Deadline", "Country", "Title", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 70}})
	for _, o := range opps {
		t.AppendRow(table.Row{o.ID, o.Type, models.DateKey(o.Deadline), o.Country, o.Title, o.SourceURL})
	}
	t.Render()
	fmt.Printf("%s: %d opportunities\n", collector.Name(), len(opps))
}
