package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/models"
)

func renderResults(w io.Writer, items []models.ClassifiedOpportunity, threshold int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Score", "Type", "Category", "Deadline", "Title", "Authority", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, WidthMax: 60},
		{Number: 7, WidthMax: 30},
	})

	for i, item := range items {
		opp := item.Opportunity
		score := fmt.Sprintf("%d", item.Score())
		if item.Score() >= threshold {
			score = text.FgGreen.Sprint(score)
		}
		t.AppendRow(table.Row{
			i + 1,
			score,
			opp.Type,
			item.Classification.Category,
			orDash(models.DateKey(opp.Deadline)),
			opp.Title,
			orDash(opp.ContractingAuthority),
			opp.SourceURL,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(items)})
	t.Render()
}

func renderCheckpoints(w io.Writer, list []checkpoint.Metadata) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Stage", "Updated", "Collected", "Classified", "Relevant", "Resumable"})

	for _, meta := range list {
		resumable := ""
		if meta.Resumable() {
			resumable = "yes"
		}
		t.AppendRow(table.Row{
			meta.RunID,
			meta.Stage,
			meta.UpdatedAt.Format("2006-01-02 15:04:05"),
			meta.Counts["collected"],
			meta.Counts["classified"],
			meta.Counts["relevant"],
			resumable,
		})
	}
	t.Render()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
