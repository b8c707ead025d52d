package metrics

import (
	"strconv"
	"sync"
	"time"
)

// StageReporter is a progress sink that records stage durations.
type StageReporter struct {
	mu      sync.Mutex
	started map[int]time.Time
	now     func() time.Time
}

func NewStageReporter() *StageReporter {
	return &StageReporter{started: make(map[int]time.Time), now: time.Now}
}

func (r *StageReporter) StageBegin(stage, total int, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[stage] = r.now()
}

func (r *StageReporter) StageEnd(stage, total int, summary string) {
	r.mu.Lock()
	start, ok := r.started[stage]
	delete(r.started, stage)
	r.mu.Unlock()
	if !ok {
		return
	}
	ObserveStageDuration(strconv.Itoa(stage), r.now().Sub(start).Seconds())
}

func (r *StageReporter) ItemProgress(current, total int, label string) {}

func (r *StageReporter) Finish(summary string) {}
