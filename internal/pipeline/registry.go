package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/metrics"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunActive   = errors.New("a pipeline run is already active")
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
	StatusTimedOut  RunStatus = "timed_out"
)

// StatusFromError maps the error of a finished run to its terminal status.
func StatusFromError(err error) RunStatus {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

// Snapshot is the externally visible state of one run.
type Snapshot struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	Stage        int        `json:"stage"`
	StageName    string     `json:"stage_name,omitempty"`
	StageDetail  string     `json:"stage_detail,omitempty"`
	Progress     Progress   `json:"progress"`
	Overall      int        `json:"overall_percent"`
	CheckpointID string     `json:"checkpoint_id,omitempty"`
	Resumed      bool       `json:"resumed"`
	Collected    int        `json:"collected"`
	Classified   int        `json:"classified"`
	Relevant     int        `json:"relevant"`
	Summary      string     `json:"summary,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// RunFunc executes one pipeline run; Engine.Run satisfies it.
type RunFunc func(ctx context.Context, opts Options, reporter Reporter) (*Result, error)

// DoneFunc observes a finished run, e.g. to persist it.
type DoneFunc func(ctx context.Context, snap Snapshot, res *Result)

type StartRequest struct {
	Options
	// Timeout bounds the whole run; zero uses the registry default.
	Timeout time.Duration
}

type runEntry struct {
	snap      Snapshot
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Registry runs pipelines in the background, one at a time, and keeps the
// state of every run it started.
type Registry struct {
	run            RunFunc
	defaultTimeout time.Duration
	onDone         DoneFunc

	mu   sync.Mutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
	now  func() time.Time
	log  *zap.SugaredLogger
}

func NewRegistry(run RunFunc, defaultTimeout time.Duration, onDone DoneFunc) *Registry {
	return &Registry{
		run:            run,
		defaultTimeout: defaultTimeout,
		onDone:         onDone,
		runs:           make(map[string]*runEntry),
		now:            time.Now,
		log:            zap.S().Named("registry"),
	}
}

// Start launches a run detached from ctx's cancellation and returns its
// initial snapshot. ErrRunActive is returned while another run is running.
func (r *Registry) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.runs {
		if e.snap.Status == StatusRunning {
			return e.snap, fmt.Errorf("run %s: %w", e.snap.ID, ErrRunActive)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	base := context.WithoutCancel(ctx)
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}

	id := uuid.New().String()
	e := &runEntry{
		snap:   Snapshot{ID: id, Status: StatusRunning, StartedAt: r.now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[id] = e
	r.log.Infow("run started", "run_id", id, "timeout", timeout, "use_cache", req.UseCache, "resume", req.ResumeRunID)

	r.wg.Add(1)
	go r.execute(runCtx, e, req.Options)
	return e.snap, nil
}

func (r *Registry) execute(ctx context.Context, e *runEntry, opts Options) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	var res *Result
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("pipeline panic: %v", p)
			}
		}()
		res, err = r.run(ctx, opts, &snapshotReporter{r: r, e: e})
	}()

	// Runs after cancellation has been observed by the pipeline.
	r.mu.Lock()
	status := StatusFromError(err)
	if e.cancelled && status != StatusCompleted {
		status = StatusCancelled
	}
	end := r.now()
	e.snap.Status = status
	e.snap.EndedAt = &end
	if err != nil {
		e.snap.Error = err.Error()
	}
	if res != nil {
		e.snap.CheckpointID = res.RunID
		e.snap.Resumed = res.Resumed
		e.snap.Collected = res.Collected
		e.snap.Classified = res.Classified
		e.snap.Relevant = len(res.Relevant)
	}
	snap := e.snap
	r.mu.Unlock()

	metrics.IncreasePipelineRuns(string(status))
	r.log.Infow("run finished", "run_id", snap.ID, "status", status, "checkpoint", snap.CheckpointID, "error", snap.Error)

	if r.onDone != nil {
		doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		r.onDone(doneCtx, snap, res)
	}
}

// Stop requests cooperative cancellation. Stopping a finished run is a no-op.
func (r *Registry) Stop(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if e.snap.Status == StatusRunning {
		e.cancelled = true
		e.cancel()
		r.log.Infow("run cancellation requested", "run_id", id)
	}
	return e.snap, nil
}

func (r *Registry) Status(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return e.snap, nil
}

// List returns every known run, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until the run has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	e, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	select {
	case <-e.done:
		return r.Status(id)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Shutdown cancels active runs and waits for their cleanup.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, e := range r.runs {
		if e.snap.Status == StatusRunning {
			e.cancelled = true
			e.cancel()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshotReporter records progress into the registry so it can be polled.
type snapshotReporter struct {
	r *Registry
	e *runEntry
}

func (s *snapshotReporter) StageBegin(stage, total int, detail string) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.e.snap.Stage = stage
	s.e.snap.StageName = StageName(stage)
	s.e.snap.StageDetail = detail
	s.e.snap.Progress = Progress{}
	s.e.snap.Overall = OverallPercent(stage, 0)
}

func (s *snapshotReporter) StageEnd(stage, total int, summary string) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.e.snap.Summary = summary
	s.e.snap.Overall = OverallPercent(stage, 100)
}

func (s *snapshotReporter) ItemProgress(current, total int, label string) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.e.snap.Progress = Progress{Current: current, Total: total, Label: label}
	if total > 0 {
		s.e.snap.Overall = OverallPercent(s.e.snap.Stage, current*100/total)
	}
}

func (s *snapshotReporter) Finish(summary string) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.e.snap.Summary = summary
}
