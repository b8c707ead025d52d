package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// TotalStages is the number of stages reported by one run.
const TotalStages = 6

const (
	StageCollect = iota + 1
	StageDedup
	StageFilter
	StageClassify
	StageEnrich
	StageFinalize
)

var stageNames = map[int]string{
	StageCollect:  "Collecting",
	StageDedup:    "Deduplicating",
	StageFilter:   "Filtering past items",
	StageClassify: "Classifying",
	StageEnrich:   "Enriching dates",
	StageFinalize: "Finalizing",
}

// StageName returns the display name of a stage number.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("Stage %d", stage)
}

// Reporter observes the progress of a run. The pipeline only calls it;
// implementations must not block for long.
type Reporter interface {
	StageBegin(stage, total int, detail string)
	StageEnd(stage, total int, summary string)
	ItemProgress(current, total int, label string)
	Finish(summary string)
}

type NopReporter struct{}

func (NopReporter) StageBegin(int, int, string)   {}
func (NopReporter) StageEnd(int, int, string)     {}
func (NopReporter) ItemProgress(int, int, string) {}
func (NopReporter) Finish(string)                 {}

// MultiReporter fans every event out to each reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) StageBegin(stage, total int, detail string) {
	for _, r := range m {
		r.StageBegin(stage, total, detail)
	}
}

func (m MultiReporter) StageEnd(stage, total int, summary string) {
	for _, r := range m {
		r.StageEnd(stage, total, summary)
	}
}

func (m MultiReporter) ItemProgress(current, total int, label string) {
	for _, r := range m {
		r.ItemProgress(current, total, label)
	}
}

func (m MultiReporter) Finish(summary string) {
	for _, r := range m {
		r.Finish(summary)
	}
}

// LogReporter writes stage transitions as log lines.
type LogReporter struct {
	log *zap.SugaredLogger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{log: zap.S().Named("progress")}
}

func (r *LogReporter) StageBegin(stage, total int, detail string) {
	r.log.Infof(">>> [%d/%d] %s%s", stage, total, StageName(stage), suffix(detail))
}

func (r *LogReporter) StageEnd(stage, total int, summary string) {
	r.log.Infof("<<< [%d/%d] %s done%s", stage, total, StageName(stage), suffix(summary))
}

func (r *LogReporter) ItemProgress(current, total int, label string) {
	r.log.Debugf("progress: %d/%d %s", current, total, label)
}

func (r *LogReporter) Finish(summary string) {
	r.log.Infof("=== pipeline complete%s ===", suffix(summary))
}

func suffix(s string) string {
	if s == "" {
		return ""
	}
	return " - " + s
}

const barWidth = 30

// TerminalReporter draws an in-place progress bar on a terminal. When the
// output is not a terminal it logs stage times and every 10% milestone of
// item progress instead.
type TerminalReporter struct {
	out   io.Writer
	isTTY bool
	now   func() time.Time
	log   *zap.SugaredLogger

	mu         sync.Mutex
	stage      int
	start      time.Time
	stageStart time.Time
}

func NewTerminalReporter(f *os.File) *TerminalReporter {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return newTerminalReporter(f, tty)
}

func newTerminalReporter(out io.Writer, tty bool) *TerminalReporter {
	now := time.Now
	return &TerminalReporter{
		out:        out,
		isTTY:      tty,
		now:        now,
		log:        zap.S().Named("progress"),
		start:      now(),
		stageStart: now(),
	}
}

func (r *TerminalReporter) StageBegin(stage, total int, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.stageStart = r.now()
	r.log.Infof(">>> [%d/%d] %s%s", stage, total, StageName(stage), suffix(detail))
	r.drawBar(0, "starting...")
}

func (r *TerminalReporter) StageEnd(stage, total int, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.now().Sub(r.stageStart).Seconds()
	r.drawBar(100, "done")
	if r.isTTY {
		fmt.Fprint(r.out, "\n")
	}
	r.log.Infof("<<< [%d/%d] %s done in %.1fs%s", stage, total, StageName(stage), elapsed, suffix(summary))
}

func (r *TerminalReporter) ItemProgress(current, total int, label string) {
	if total <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pct := current * 100 / total
	short := truncateRunes(label, 50)
	r.drawBar(pct, fmt.Sprintf("%d/%d %s", current, total, short))

	if total >= 10 && current%max(1, total/10) == 0 {
		r.log.Infof("  progress: %d/%d (%d%%) %s", current, total, pct, short)
	}
}

func (r *TerminalReporter) Finish(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Infof("=== pipeline complete in %.1fs%s ===", r.now().Sub(r.start).Seconds(), suffix(summary))
}

// drawBar renders the bar for the current stage. Caller holds mu.
func (r *TerminalReporter) drawBar(pct int, detail string) {
	if !r.isTTY {
		return
	}
	fmt.Fprint(r.out, renderBar(r.stage, pct, detail))
}

func renderBar(stage, pct int, detail string) string {
	pct = min(max(pct, 0), 100)
	overall := OverallPercent(stage, pct)
	filled := barWidth * pct / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	line := fmt.Sprintf("  [%s] %3d%% | Overall %2d%% | %s", bar, pct, overall, detail)
	if n := len([]rune(line)); n < 100 {
		line += strings.Repeat(" ", 100-n)
	}
	return "\r" + line
}

// OverallPercent maps a stage and its own percentage onto the whole run.
func OverallPercent(stage, pct int) int {
	if stage < 1 {
		return 0
	}
	pct = min(max(pct, 0), 100)
	return ((stage-1)*100 + pct) / TotalStages
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
