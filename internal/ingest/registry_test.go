package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectorNames(cs []Collector) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name())
	}
	return out
}

func TestRegistryEnabled(t *testing.T) {
	s := testSettings(t)
	s.Collectors.TED.Enabled = true
	s.Collectors.ANAC.Enabled = false
	s.Collectors.Feeds.Enabled = true
	s.Collectors.WebEvents.Enabled = true
	s.Collectors.WebTenders.Enabled = false
	s.Collectors.WebSearch.Enabled = true

	withAI := NewRegistry(s, &stubPageAI{}).Enabled()
	assert.Equal(t, []string{NameTED, NameEvents, NameWebEvents, NameWebSearch}, collectorNames(withAI))

	withoutAI := NewRegistry(s, nil).Enabled()
	assert.Equal(t, []string{NameTED, NameEvents}, collectorNames(withoutAI))
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry(testSettings(t), &stubPageAI{})
	for _, name := range Names() {
		c, err := r.Build(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	_, err := r.Build("Grants.gov")
	assert.Error(t, err)
}
