package ingest

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/config"
)

// Collector names, also used as metric labels and in stage summaries.
const (
	NameTED        = "TED"
	NameANAC       = "ANAC"
	NameEvents     = "Events"
	NameWebEvents  = "WebEvents"
	NameWebTenders = "WebTenders"
	NameWebSearch  = "WebSearch"
)

// Registry builds the collectors enabled in a settings snapshot.
type Registry struct {
	settings config.Settings
	pageAI   PageAI
}

func NewRegistry(settings config.Settings, pageAI PageAI) *Registry {
	return &Registry{settings: settings, pageAI: pageAI}
}

// Enabled returns a fresh collector for every enabled source, in a fixed
// order. Web collectors are skipped when no AI service is available.
func (r *Registry) Enabled() []Collector {
	var out []Collector
	for _, name := range r.settings.EnabledCollectors() {
		c, err := r.Build(name)
		if err != nil {
			zap.S().Named("registry").Warnw("collector skipped", "collector", name, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Build returns the collector registered under name regardless of its
// enabled flag.
func (r *Registry) Build(name string) (Collector, error) {
	s := r.settings
	switch name {
	case NameTED:
		return NewTEDCollector(s), nil
	case NameANAC:
		return NewANACCollector(s), nil
	case NameEvents:
		return NewFeedCollector(s), nil
	}

	if r.pageAI == nil {
		return nil, fmt.Errorf("collector %s needs an AI service", name)
	}
	switch name {
	case NameWebEvents:
		return NewWebEventsCollector(s, r.pageAI), nil
	case NameWebTenders:
		return NewWebTendersCollector(s, r.pageAI), nil
	case NameWebSearch:
		return NewWebSearchCollector(s, r.pageAI), nil
	}
	return nil, fmt.Errorf("collector not found: %s", name)
}

// Names lists every collector the registry can build.
func Names() []string {
	return []string{NameTED, NameANAC, NameEvents, NameWebEvents, NameWebTenders, NameWebSearch}
}
