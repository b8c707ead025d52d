package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/auth"
	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/db"
	"github.com/david/opportunity-monitor/internal/models"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

// History is the persisted run history; the server works without one.
type History interface {
	ListRuns(ctx context.Context, params db.ListRunsParams) ([]db.RunRecord, error)
	RunResults(ctx context.Context, runID string, minScore int) ([]models.ClassifiedOpportunity, error)
	ExcludedURLs(ctx context.Context) ([]string, error)
	AddExcludedURLs(ctx context.Context, urls []string, reason string) (int, error)
	RemoveExcludedURL(ctx context.Context, url string) error
}

type Server struct {
	Echo *echo.Echo

	settings    config.Settings
	registry    *pipeline.Registry
	checkpoints *checkpoint.Store
	history     History
	auth        *auth.Service
	now         func() time.Time
	log         *zap.SugaredLogger
}

type Options struct {
	Settings    config.Settings
	Registry    *pipeline.Registry
	Checkpoints *checkpoint.Store
	// History may be nil when no database is configured.
	History History
	Auth    *auth.Service
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:        e,
		settings:    opts.Settings,
		registry:    opts.Registry,
		checkpoints: opts.Checkpoints,
		history:     opts.History,
		auth:        opts.Auth,
		now:         time.Now,
		log:         zap.S().Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.Use(s.auth.Middleware)

	api.POST("/runs", s.handleStartRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.DELETE("/runs/:id", s.handleStopRun)
	api.GET("/runs/:id/results", s.handleRunResults)

	api.GET("/checkpoints", s.handleListCheckpoints)

	api.GET("/history", s.handleHistory, s.requireHistory)
	api.GET("/history/:id/results", s.handleHistoryResults, s.requireHistory)
	api.GET("/excluded-urls", s.handleListExcluded, s.requireHistory)
	api.POST("/excluded-urls", s.handleAddExcluded, s.requireHistory)
	api.DELETE("/excluded-urls", s.handleRemoveExcluded, s.requireHistory)

	api.POST("/auth/token", s.handleIssueToken, s.auth.AdminOnly)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests, then cancels active runs and waits for
// their checkpoints to be released.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.Echo.Shutdown(ctx)
	runErr := s.registry.Shutdown(ctx)
	return errors.Join(httpErr, runErr)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := map[string]any{"status": "ok", "history": s.history != nil}
	for _, snap := range s.registry.List() {
		if snap.Status == pipeline.StatusRunning {
			resp["active_run"] = snap.ID
			break
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type startRunRequest struct {
	UseCache     bool     `json:"use_cache"`
	ResumeRunID  string   `json:"resume_run_id"`
	Timeout      string   `json:"timeout"`
	ExcludedURLs []string `json:"excluded_urls"`
}

func (s *Server) handleStartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	timeout, err := parseTimeout(req.Timeout)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	excluded := req.ExcludedURLs
	if s.history != nil {
		stored, err := s.history.ExcludedURLs(c.Request().Context())
		if err != nil {
			s.log.Warnw("could not load excluded urls", "error", err)
		}
		excluded = append(excluded, stored...)
	}

	snap, err := s.registry.Start(c.Request().Context(), pipeline.StartRequest{
		Options: pipeline.Options{
			UseCache:     req.UseCache,
			ResumeRunID:  strings.TrimSpace(req.ResumeRunID),
			ExcludedURLs: excluded,
		},
		Timeout: timeout,
	})
	if errors.Is(err, pipeline.ErrRunActive) {
		return c.JSON(http.StatusConflict, map[string]any{"error": "a pipeline run is already active", "run": snap})
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	s.log.Infow("run requested", "run_id", snap.ID, "by", auth.SubjectFromContext(c))
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/runs/"+snap.ID)
	return c.JSON(http.StatusAccepted, snap)
}

// parseTimeout accepts a Go duration ("45m") or a number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("timeout must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return d, nil
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"runs": s.registry.List()})
}

func (s *Server) handleGetRun(c echo.Context) error {
	snap, err := s.registry.Status(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStopRun(c echo.Context) error {
	snap, err := s.registry.Stop(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "run not found")
	}
	s.log.Infow("run stop requested", "run_id", snap.ID, "by", auth.SubjectFromContext(c))
	return c.JSON(http.StatusAccepted, snap)
}

type resultsResponse struct {
	RunID        string                         `json:"run_id"`
	CheckpointID string                         `json:"checkpoint_id"`
	Total        int                            `json:"total"`
	Items        []models.ClassifiedOpportunity `json:"items"`
}

// handleRunResults ranks the classified log of a run's checkpoint. The id may
// be a registry run id or a checkpoint id left by an earlier process.
func (s *Server) handleRunResults(c echo.Context) error {
	id := c.Param("id")
	minScore, err := s.minScore(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	checkpointID := id
	if snap, err := s.registry.Status(id); err == nil {
		if snap.Status == pipeline.StatusRunning {
			return c.JSON(http.StatusConflict, map[string]any{"error": "run is still in progress", "run": snap})
		}
		if snap.CheckpointID == "" {
			return c.JSON(http.StatusOK, resultsResponse{RunID: id, Items: []models.ClassifiedOpportunity{}})
		}
		checkpointID = snap.CheckpointID
	}

	run, err := s.checkpoints.Open(checkpointID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "run not found")
	}
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	classified, err := run.LoadClassified()
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	ranked := pipeline.FinalizeResults(classified, s.settings.Today(s.now()), s.settings.EventDedup.SimilarityThreshold)
	items := pipeline.Relevant(ranked, minScore)
	return c.JSON(http.StatusOK, resultsResponse{
		RunID:        id,
		CheckpointID: checkpointID,
		Total:        len(ranked),
		Items:        items,
	})
}

// minScore reads ?min_score=N, or the configured threshold for ?relevant=true.
func (s *Server) minScore(c echo.Context) (int, error) {
	if raw := c.QueryParam("min_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 10 {
			return 0, fmt.Errorf("min_score must be an integer between 0 and 10")
		}
		return n, nil
	}
	if relevant, _ := strconv.ParseBool(c.QueryParam("relevant")); relevant {
		return s.settings.RelevanceThreshold, nil
	}
	return 0, nil
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	list, err := s.checkpoints.List()
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"checkpoints": list})
}

func (s *Server) requireHistory(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.history == nil {
			return errorJSON(c, http.StatusServiceUnavailable, "run history is not configured")
		}
		return next(c)
	}
}

func (s *Server) handleHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	params := db.ListRunsParams{
		Status: c.QueryParam("status"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "since must be YYYY-MM-DD")
		}
		params.Since = &since
	}

	runs, err := s.history.ListRuns(c.Request().Context(), params)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleHistoryResults(c echo.Context) error {
	minScore, err := s.minScore(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	items, err := s.history.RunResults(c.Request().Context(), c.Param("id"), minScore)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resultsResponse{RunID: c.Param("id"), Total: len(items), Items: items})
}

func (s *Server) handleListExcluded(c echo.Context) error {
	urls, err := s.history.ExcludedURLs(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"urls": urls})
}

type excludeRequest struct {
	URLs   []string `json:"urls"`
	Reason string   `json:"reason"`
}

func (s *Server) handleAddExcluded(c echo.Context) error {
	var req excludeRequest
	if err := c.Bind(&req); err != nil || len(req.URLs) == 0 {
		return errorJSON(c, http.StatusBadRequest, "urls required")
	}
	added, err := s.history.AddExcludedURLs(c.Request().Context(), req.URLs, req.Reason)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleRemoveExcluded(c echo.Context) error {
	u := c.QueryParam("url")
	if u == "" {
		return errorJSON(c, http.StatusBadRequest, "url param required")
	}
	err := s.history.RemoveExcludedURL(c.Request().Context(), u)
	if errors.Is(err, db.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "url not excluded")
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type tokenRequest struct {
	Subject string `json:"subject"`
	TTL     string `json:"ttl"`
}

func (s *Server) handleIssueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	ttl, err := parseTimeout(req.TTL)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid ttl")
	}
	token, exp, err := s.auth.IssueToken(req.Subject, ttl)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"token": token, "expires_at": exp})
}
