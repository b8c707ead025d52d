package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/models"
)

func TestRenderResults(t *testing.T) {
	deadline := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	items := []models.ClassifiedOpportunity{
		{
			Opportunity:    models.Opportunity{Title: "Migrazione SAP S/4HANA", Type: models.TypeTender, Deadline: &deadline, SourceURL: "https://ted.europa.eu/x"},
			Classification: models.Classification{RelevanceScore: 9, Category: models.CategorySAP},
		},
		{
			Opportunity:    models.Opportunity{Title: "Data Summit", Type: models.TypeEvent},
			Classification: models.Classification{RelevanceScore: 4, Category: models.CategoryData},
		},
	}

	var buf bytes.Buffer
	renderResults(&buf, items, 6)
	out := buf.String()
	assert.Contains(t, out, "Migrazione SAP S/4HANA")
	assert.Contains(t, out, "2026-04-30")
	assert.Contains(t, out, "Evento")
	assert.Contains(t, out, "TOTAL")
}

func TestRenderCheckpoints(t *testing.T) {
	var buf bytes.Buffer
	renderCheckpoints(&buf, []checkpoint.Metadata{
		{RunID: "run_20260310_093005", Stage: checkpoint.StageClassifying, Counts: map[string]int{"collected": 12}},
		{RunID: "run_20260309_080000", Stage: checkpoint.StageComplete},
	})
	out := buf.String()
	assert.Contains(t, out, "run_20260310_093005")
	assert.Contains(t, out, "classifying")
	assert.Contains(t, out, "yes")
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash("  "))
	assert.Equal(t, "x", orDash("x"))
}
