package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/models"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

func TestBuildRunsQuery(t *testing.T) {
	sql, args := buildRunsQuery(ListRunsParams{})
	assert.Contains(t, sql, "WHERE 1=1 ORDER BY started_at DESC LIMIT $1 OFFSET $2")
	assert.Equal(t, []any{50, 0}, args)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sql, args = buildRunsQuery(ListRunsParams{Status: "failed", Since: &since, Limit: 10, Offset: -3})
	assert.Contains(t, sql, "AND status = $1 AND started_at >= $2")
	assert.True(t, strings.HasSuffix(sql, "LIMIT $3 OFFSET $4"))
	assert.Equal(t, []any{"failed", since, 10, 0}, args)

	_, args = buildRunsQuery(ListRunsParams{Limit: 10000})
	assert.Equal(t, 50, args[0])
}

func TestResultRows(t *testing.T) {
	deadline := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	items := []models.ClassifiedOpportunity{
		{
			Opportunity:    models.Opportunity{ID: "ted-1", Title: "Migrazione cloud", Source: models.SourceTED, Type: models.TypeTender, Deadline: &deadline},
			Classification: models.Classification{RelevanceScore: 9, Category: models.CategoryCloud},
		},
		{
			Opportunity:    models.Opportunity{ID: "ted-1", Title: "Duplicato"},
			Classification: models.Classification{RelevanceScore: 4},
		},
		{
			Opportunity:    models.Opportunity{ID: "ev-2", Title: "Summit", Type: models.TypeEvent},
			Classification: models.Classification{RelevanceScore: 7, Category: models.CategoryAI},
		},
	}

	rows, err := resultRows("run-1", items)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], len(resultCols))

	assert.Equal(t, "run-1", rows[0][0])
	assert.Equal(t, 1, rows[0][1])
	assert.Equal(t, "ted-1", rows[0][2])
	assert.Equal(t, "Cloud", rows[0][9])
	assert.Equal(t, 3, rows[1][1])
	assert.Equal(t, 7, rows[1][8])

	var decoded models.ClassifiedOpportunity
	require.NoError(t, json.Unmarshal(rows[0][10].([]byte), &decoded))
	assert.Equal(t, "Migrazione cloud", decoded.Opportunity.Title)
}

func TestRecordFromSnapshot(t *testing.T) {
	end := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	rec := RecordFromSnapshot(pipeline.Snapshot{
		ID:           "abc",
		Status:       pipeline.StatusTimedOut,
		CheckpointID: "run_20260310_093005",
		Collected:    12,
		Classified:   4,
		Relevant:     2,
		Error:        "context deadline exceeded",
		StartedAt:    end.Add(-time.Hour),
		EndedAt:      &end,
	})
	assert.Equal(t, "timed_out", rec.Status)
	assert.Equal(t, "run_20260310_093005", rec.CheckpointID)
	assert.Equal(t, 2, rec.Relevant)
	assert.Equal(t, &end, rec.EndedAt)
}

func TestNormalizeURLKeys(t *testing.T) {
	keys := normalizeURLKeys([]string{" https://A.example/x ", "https://a.example/x", "", "https://b.example"})
	assert.Equal(t, []string{"https://a.example/x", "https://b.example"}, keys)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	content, err := migrationsFS.ReadFile("migrations/" + files[0])
	require.NoError(t, err)
	for _, table := range Tables {
		assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
