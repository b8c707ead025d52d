package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/opportunity-monitor/internal/models"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunRecord is the persisted summary of one finished pipeline run.
type RunRecord struct {
	ID           string     `json:"id"`
	CheckpointID string     `json:"checkpoint_id,omitempty"`
	Status       string     `json:"status"`
	Resumed      bool       `json:"resumed"`
	Collected    int        `json:"collected"`
	Classified   int        `json:"classified"`
	Relevant     int        `json:"relevant"`
	Summary      string     `json:"summary,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func RecordFromSnapshot(snap pipeline.Snapshot) RunRecord {
	return RunRecord{
		ID:           snap.ID,
		CheckpointID: snap.CheckpointID,
		Status:       string(snap.Status),
		Resumed:      snap.Resumed,
		Collected:    snap.Collected,
		Classified:   snap.Classified,
		Relevant:     snap.Relevant,
		Summary:      snap.Summary,
		Error:        snap.Error,
		StartedAt:    snap.StartedAt,
		EndedAt:      snap.EndedAt,
	}
}

type ListRunsParams struct {
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}

const runCols = `id, COALESCE(checkpoint_id, ''), status, resumed, collected, classified, relevant,
	COALESCE(summary, ''), COALESCE(error, ''), started_at, ended_at`

func scanRun(scan func(dest ...any) error) (RunRecord, error) {
	var r RunRecord
	err := scan(&r.ID, &r.CheckpointID, &r.Status, &r.Resumed, &r.Collected, &r.Classified, &r.Relevant,
		&r.Summary, &r.Error, &r.StartedAt, &r.EndedAt)
	return r, err
}

// SaveRun upserts the run record and replaces its ranked results in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, items []models.ClassifiedOpportunity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_runs (id, checkpoint_id, status, resumed, collected, classified, relevant, summary, error, started_at, ended_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			checkpoint_id = EXCLUDED.checkpoint_id,
			status = EXCLUDED.status,
			resumed = EXCLUDED.resumed,
			collected = EXCLUDED.collected,
			classified = EXCLUDED.classified,
			relevant = EXCLUDED.relevant,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at
	`, rec.ID, rec.CheckpointID, rec.Status, rec.Resumed, rec.Collected, rec.Classified, rec.Relevant,
		rec.Summary, rec.Error, rec.StartedAt, rec.EndedAt)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", rec.ID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM run_results WHERE run_id = $1", rec.ID); err != nil {
		return fmt.Errorf("clear results %s: %w", rec.ID, err)
	}

	if len(items) > 0 {
		rows, err := resultRows(rec.ID, items)
		if err != nil {
			return err
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"run_results"}, resultCols, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy results %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", rec.ID, err)
	}
	return nil
}

var resultCols = []string{
	"run_id", "rank", "opportunity_id", "title", "source", "opportunity_type",
	"source_url", "deadline", "relevance_score", "category", "payload",
}

// resultRows flattens ranked items into COPY rows. Duplicate ids keep the
// first (highest ranked) occurrence.
func resultRows(runID string, items []models.ClassifiedOpportunity) ([][]any, error) {
	seen := make(map[string]bool, len(items))
	rows := make([][]any, 0, len(items))
	for i, item := range items {
		opp := item.Opportunity
		if seen[opp.ID] {
			continue
		}
		seen[opp.ID] = true

		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode result %s: %w", opp.ID, err)
		}
		rows = append(rows, []any{
			runID, i + 1, opp.ID, opp.Title, string(opp.Source), string(opp.Type),
			opp.SourceURL, opp.Deadline, item.Score(), string(item.Classification.Category), payload,
		})
	}
	return rows, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+runCols+" FROM pipeline_runs WHERE id = $1", id)
	r, err := scanRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// buildRunsQuery assembles the filtered, newest-first run listing.
func buildRunsQuery(params ListRunsParams) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if params.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Since != nil {
		where += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *params.Since)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(params.Offset, 0)

	sql := fmt.Sprintf("SELECT %s FROM pipeline_runs %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		runCols, where, argIdx, argIdx+1)
	args = append(args, limit, offset)
	return sql, args
}

func (s *Store) ListRuns(ctx context.Context, params ListRunsParams) ([]RunRecord, error) {
	sql, args := buildRunsQuery(params)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return out, nil
}

// RunResults returns the stored results of a run in rank order, keeping only
// those scoring at least minScore.
func (s *Store) RunResults(ctx context.Context, runID string, minScore int) ([]models.ClassifiedOpportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM run_results
		WHERE run_id = $1 AND relevance_score >= $2
		ORDER BY rank
	`, runID, minScore)
	if err != nil {
		return nil, fmt.Errorf("query results %s: %w", runID, err)
	}
	defer rows.Close()

	out := []models.ClassifiedOpportunity{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		var item models.ClassifiedOpportunity
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", runID, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return out, nil
}

// ExcludedURLs returns every excluded URL key.
func (s *Store) ExcludedURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT url_key FROM excluded_urls ORDER BY url_key")
	if err != nil {
		return nil, fmt.Errorf("query excluded urls: %w", err)
	}
	defer rows.Close()

	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect excluded urls: %w", err)
	}
	return urls, nil
}

// AddExcludedURLs stores normalized keys of urls and reports how many were new.
func (s *Store) AddExcludedURLs(ctx context.Context, urls []string, reason string) (int, error) {
	keys := normalizeURLKeys(urls)
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO excluded_urls (url_key, reason)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (url_key) DO NOTHING
	`, keys, reason)
	if err != nil {
		return 0, fmt.Errorf("insert excluded urls: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) RemoveExcludedURL(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM excluded_urls WHERE url_key = $1", models.NormalizeURLKey(url))
	if err != nil {
		return fmt.Errorf("delete excluded url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("excluded url %q: %w", url, ErrNotFound)
	}
	return nil
}

func normalizeURLKeys(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		key := models.NormalizeURLKey(u)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// TableCounts returns the row count of every application table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Tables lists the tables created by the embedded migrations.
var Tables = []string{"pipeline_runs", "run_results", "excluded_urls"}

// Persist writes a finished run and its ranked items.
func (s *Store) Persist(ctx context.Context, snap pipeline.Snapshot, res *pipeline.Result) error {
	var items []models.ClassifiedOpportunity
	if res != nil {
		items = res.Items
	}
	if err := s.SaveRun(ctx, RecordFromSnapshot(snap), items); err != nil {
		return fmt.Errorf("persist run %s: %w", snap.ID, err)
	}
	return nil
}
