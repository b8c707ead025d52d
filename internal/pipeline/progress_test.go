package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverallPercent(t *testing.T) {
	assert.Equal(t, 0, OverallPercent(0, 50))
	assert.Equal(t, 0, OverallPercent(1, 0))
	assert.Equal(t, 8, OverallPercent(1, 50))
	assert.Equal(t, 50, OverallPercent(4, 0))
	assert.Equal(t, 100, OverallPercent(6, 100))
	assert.Equal(t, 100, OverallPercent(6, 250))
}

func TestRenderBar(t *testing.T) {
	line := renderBar(4, 50, "3/6 Gara cloud")
	assert.True(t, strings.HasPrefix(line, "\r  ["))
	assert.Contains(t, line, strings.Repeat("█", 15)+strings.Repeat("░", 15))
	assert.Contains(t, line, " 50% | Overall 58% | 3/6 Gara cloud")
	assert.Len(t, []rune(line), 101)
}

func TestTerminalReporter(t *testing.T) {
	t.Run("tty draws the bar", func(t *testing.T) {
		var buf bytes.Buffer
		r := newTerminalReporter(&buf, true)
		r.StageBegin(StageClassify, TotalStages, "classificazione")
		r.ItemProgress(1, 4, "Gara")
		r.StageEnd(StageClassify, TotalStages, "4 classificati")

		out := buf.String()
		assert.Contains(t, out, "starting...")
		assert.Contains(t, out, "1/4 Gara")
		assert.Contains(t, out, "done")
		assert.True(t, strings.HasSuffix(out, "\n"))
	})

	t.Run("non tty writes nothing", func(t *testing.T) {
		var buf bytes.Buffer
		r := newTerminalReporter(&buf, false)
		r.StageBegin(StageCollect, TotalStages, "TED")
		r.ItemProgress(10, 10, "TED")
		r.StageEnd(StageCollect, TotalStages, "")
		r.Finish("fatto")
		assert.Zero(t, buf.Len())
	})

	t.Run("zero total is ignored", func(t *testing.T) {
		var buf bytes.Buffer
		r := newTerminalReporter(&buf, true)
		r.ItemProgress(1, 0, "x")
		assert.Zero(t, buf.Len())
	})
}

func TestMultiReporterFansOut(t *testing.T) {
	a, b := newRecordingReporter(), newRecordingReporter()
	m := MultiReporter{a, b, NopReporter{}}
	m.StageBegin(StageDedup, TotalStages, "")
	m.ItemProgress(1, 2, "x")
	m.StageEnd(StageDedup, TotalStages, "ok")
	m.Finish("done")

	for _, r := range []*recordingReporter{a, b} {
		assert.Equal(t, []int{StageDedup}, r.begins)
		assert.Equal(t, "ok", r.ends[StageDedup])
		assert.Len(t, r.items, 1)
		assert.Equal(t, "done", r.finish)
	}
}

func TestStageName(t *testing.T) {
	assert.Equal(t, "Classifying", StageName(StageClassify))
	assert.Equal(t, "Stage 9", StageName(9))
}
