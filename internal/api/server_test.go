package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/auth"
	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/db"
	"github.com/david/opportunity-monitor/internal/models"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

const adminSecret = "test-admin"

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeHistory struct {
	mu       sync.Mutex
	excluded []string
	runs     []db.RunRecord
}

func (f *fakeHistory) ListRuns(ctx context.Context, params db.ListRunsParams) ([]db.RunRecord, error) {
	var out []db.RunRecord
	for _, r := range f.runs {
		if params.Status == "" || r.Status == params.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) RunResults(ctx context.Context, runID string, minScore int) ([]models.ClassifiedOpportunity, error) {
	return []models.ClassifiedOpportunity{}, nil
}

func (f *fakeHistory) ExcludedURLs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.excluded...), nil
}

func (f *fakeHistory) AddExcludedURLs(ctx context.Context, urls []string, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excluded = append(f.excluded, urls...)
	return len(urls), nil
}

func (f *fakeHistory) RemoveExcludedURL(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.excluded {
		if u == url {
			f.excluded = append(f.excluded[:i], f.excluded[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

type harness struct {
	srv         *Server
	checkpoints *checkpoint.Store
	auth        *auth.Service

	mu      sync.Mutex
	started []pipeline.Options
	release chan struct{}
	result  *pipeline.Result
}

func newHarness(t *testing.T, history History) *harness {
	t.Helper()
	settings, err := config.Default()
	require.NoError(t, err)
	settings.RelevanceThreshold = 6
	settings.Checkpoint.Dir = t.TempDir()

	authSvc, err := auth.NewService(adminSecret, "jwt-secret")
	require.NoError(t, err)

	h := &harness{
		checkpoints: checkpoint.NewStore(settings.Checkpoint.Dir, time.UTC),
		auth:        authSvc,
		release:     make(chan struct{}),
	}
	registry := pipeline.NewRegistry(func(ctx context.Context, opts pipeline.Options, rep pipeline.Reporter) (*pipeline.Result, error) {
		h.mu.Lock()
		h.started = append(h.started, opts)
		res := h.result
		h.mu.Unlock()
		select {
		case <-h.release:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}, time.Minute, nil)

	h.srv = NewServer(Options{
		Settings:    *settings,
		Registry:    registry,
		Checkpoints: h.checkpoints,
		History:     history,
		Auth:        authSvc,
	})
	h.srv.now = func() time.Time { return fixedNow }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Secret", adminSecret)
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) wait(t *testing.T, id string) pipeline.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.srv.registry.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newHarness(t, nil)

	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunRoutesRequireAuth(t *testing.T) {
	h := newHarness(t, nil)

	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := h.auth.IssueToken("dashboard", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartConflictAndStop(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/runs", `{"use_cache":true,"timeout":"10m","excluded_urls":["https://x.example"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	snap := decode[pipeline.Snapshot](t, rec)
	assert.Equal(t, pipeline.StatusRunning, snap.Status)
	assert.Equal(t, "/api/v1/runs/"+snap.ID, rec.Header().Get("Location"))

	rec = h.do(t, http.MethodPost, "/api/v1/runs", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/runs/"+snap.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/runs/"+snap.ID+"/results", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/runs/"+snap.ID, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, pipeline.StatusCancelled, h.wait(t, snap.ID).Status)

	h.mu.Lock()
	require.Len(t, h.started, 1)
	assert.True(t, h.started[0].UseCache)
	assert.Equal(t, []string{"https://x.example"}, h.started[0].ExcludedURLs)
	h.mu.Unlock()

	list := decode[map[string][]pipeline.Snapshot](t, h.do(t, http.MethodGet, "/api/v1/runs", ""))
	assert.Len(t, list["runs"], 1)
}

func TestStartRejectsBadTimeout(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/v1/runs", `{"timeout":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRun(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/runs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/v1/runs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/runs/run_20200101_000000/results", "").Code)
}

func seedCheckpoint(t *testing.T, store *checkpoint.Store) string {
	t.Helper()
	past := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	opps := []models.Opportunity{
		{ID: "low", Title: "Fornitura toner", Type: models.TypeTender, Deadline: &future},
		{ID: "high", Title: "Migrazione SAP", Type: models.TypeTender, Deadline: &future},
		{ID: "expired", Title: "Gara chiusa", Type: models.TypeTender, Deadline: &past},
	}
	run, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, run.SaveCollected(opps))
	for i, score := range []int{3, 9, 10} {
		require.NoError(t, run.AppendClassified(models.ClassifiedOpportunity{
			Opportunity:    opps[i],
			Classification: models.Classification{RelevanceScore: score},
		}))
	}
	return run.ID()
}

func TestResultsFromCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	id := seedCheckpoint(t, h.checkpoints)

	rec := h.do(t, http.MethodGet, "/api/v1/runs/"+id+"/results", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[resultsResponse](t, rec)
	assert.Equal(t, 2, all.Total)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "high", all.Items[0].Opportunity.ID)
	assert.Equal(t, "low", all.Items[1].Opportunity.ID)

	relevant := decode[resultsResponse](t, h.do(t, http.MethodGet, "/api/v1/runs/"+id+"/results?relevant=true", ""))
	assert.Equal(t, 2, relevant.Total)
	require.Len(t, relevant.Items, 1)
	assert.Equal(t, "high", relevant.Items[0].Opportunity.ID)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/runs/"+id+"/results?min_score=eleven", "").Code)
}

func TestResultsOfFinishedRun(t *testing.T) {
	h := newHarness(t, nil)
	checkpointID := seedCheckpoint(t, h.checkpoints)
	h.result = &pipeline.Result{RunID: checkpointID}

	snap := decode[pipeline.Snapshot](t, h.do(t, http.MethodPost, "/api/v1/runs", `{}`))
	close(h.release)
	assert.Equal(t, pipeline.StatusCompleted, h.wait(t, snap.ID).Status)

	res := decode[resultsResponse](t, h.do(t, http.MethodGet, "/api/v1/runs/"+snap.ID+"/results?min_score=5", ""))
	assert.Equal(t, snap.ID, res.RunID)
	assert.Equal(t, checkpointID, res.CheckpointID)
	require.Len(t, res.Items, 1)
}

func TestHistoryRoutes(t *testing.T) {
	t.Run("disabled without a database", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/v1/history", "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/v1/excluded-urls", "").Code)
	})

	t.Run("excluded urls feed new runs", func(t *testing.T) {
		history := &fakeHistory{runs: []db.RunRecord{{ID: "a", Status: "completed"}, {ID: "b", Status: "failed"}}}
		h := newHarness(t, history)

		rec := h.do(t, http.MethodPost, "/api/v1/excluded-urls", `{"urls":["https://old.example/1"],"reason":"scaduto"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[map[string]int](t, rec)["added"])

		runs := decode[map[string][]db.RunRecord](t, h.do(t, http.MethodGet, "/api/v1/history?status=failed", ""))
		require.Len(t, runs["runs"], 1)
		assert.Equal(t, "b", runs["runs"][0].ID)

		assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/history?since=yesterday", "").Code)

		snap := decode[pipeline.Snapshot](t, h.do(t, http.MethodPost, "/api/v1/runs", `{"excluded_urls":["https://new.example"]}`))
		close(h.release)
		h.wait(t, snap.ID)
		h.mu.Lock()
		assert.Equal(t, []string{"https://new.example", "https://old.example/1"}, h.started[0].ExcludedURLs)
		h.mu.Unlock()

		assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/excluded-urls?url=https://old.example/1", "").Code)
		assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/v1/excluded-urls?url=https://old.example/1", "").Code)
	})
}

func TestIssueToken(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/token", `{"subject":"trigger","ttl":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decode[map[string]any](t, rec)["token"].(string)
	sub, err := h.auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "trigger", sub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"subject":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = parseTimeout("90")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = parseTimeout("1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = parseTimeout("-5")
	assert.Error(t, err)
	_, err = parseTimeout("-5m")
	assert.Error(t, err)
}
