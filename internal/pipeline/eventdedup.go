package pipeline

import (
	"regexp"
	"strings"

	"github.com/david/opportunity-monitor/internal/models"
)

// DefaultSimilarityThreshold is the token overlap above which two event
// titles are considered the same event.
const DefaultSimilarityThreshold = 0.7

var (
	yearRegex        = regexp.MustCompile(`\b20\d{2}\b`)
	ordinalRegex     = regexp.MustCompile(`\b\d+(st|nd|rd|th|a|°)(\s|$)`)
	editionRegex     = regexp.MustCompile(`\b(edizione|edition)\b|\bed\.`)
	romanRegex       = regexp.MustCompile(`\b(i{1,3}|iv|vi{0,3}|ix|xi{0,3})\b`)
	punctuationRegex = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRegex       = regexp.MustCompile(`\s+`)
)

// NormalizeEventTitle strips years, edition markers, Roman numerals and
// punctuation so announcements of the same event compare equal.
func NormalizeEventTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	t = yearRegex.ReplaceAllString(t, "")
	t = ordinalRegex.ReplaceAllString(t, " ")
	t = editionRegex.ReplaceAllString(t, "")
	t = romanRegex.ReplaceAllString(t, "")
	t = punctuationRegex.ReplaceAllString(t, " ")
	t = spaceRegex.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// TitlesSimilar compares two normalized titles: equal, one containing the
// other (both longer than 8 bytes), or a token overlap of at least
// threshold relative to the shorter title of two tokens or more.
func TitlesSimilar(a, b string, threshold float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) > 8 && len(b) > 8 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}

	ta, tb := tokenSet(a), tokenSet(b)
	shorter, longer := ta, tb
	if len(tb) < len(ta) {
		shorter, longer = tb, ta
	}
	if len(shorter) < 2 {
		return false
	}
	common := 0
	for tok := range shorter {
		if _, ok := longer[tok]; ok {
			common++
		}
	}
	return float64(common)/float64(len(shorter)) >= threshold
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// DedupEvents collapses announcements of the same event. Events sharing a
// deadline are clustered by title similarity and the best-scored member of
// each cluster is kept; undated events are dropped when they resemble any
// kept event. Non-events come first, unchanged.
func DedupEvents(items []models.ClassifiedOpportunity, threshold float64) []models.ClassifiedOpportunity {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	var events, out []models.ClassifiedOpportunity
	for _, item := range items {
		if item.Opportunity.IsEvent() {
			events = append(events, item)
		} else {
			out = append(out, item)
		}
	}
	if len(events) <= 1 {
		return items
	}

	var dateOrder []string
	groups := make(map[string][]models.ClassifiedOpportunity)
	var undated []models.ClassifiedOpportunity
	for _, evt := range events {
		key := models.DateKey(evt.Opportunity.Deadline)
		if key == "" {
			undated = append(undated, evt)
			continue
		}
		if _, ok := groups[key]; !ok {
			dateOrder = append(dateOrder, key)
		}
		groups[key] = append(groups[key], evt)
	}

	var kept []models.ClassifiedOpportunity
	for _, key := range dateOrder {
		kept = append(kept, bestOfClusters(groups[key], threshold)...)
	}

	keptNorms := make([]string, len(kept))
	for i, k := range kept {
		keptNorms[i] = NormalizeEventTitle(k.Opportunity.Title)
	}
	for _, evt := range undated {
		norm := NormalizeEventTitle(evt.Opportunity.Title)
		duplicate := false
		for _, kn := range keptNorms {
			if TitlesSimilar(norm, kn, threshold) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, evt)
			keptNorms = append(keptNorms, norm)
		}
	}

	return append(out, kept...)
}

// bestOfClusters greedily clusters one date group against each cluster's
// first title and returns the highest-scored member of every cluster. Ties
// keep the earlier item.
func bestOfClusters(group []models.ClassifiedOpportunity, threshold float64) []models.ClassifiedOpportunity {
	if len(group) == 1 {
		return group
	}
	type cluster struct {
		norm string
		best models.ClassifiedOpportunity
	}
	var clusters []*cluster
	for _, evt := range group {
		norm := NormalizeEventTitle(evt.Opportunity.Title)
		merged := false
		for _, c := range clusters {
			if TitlesSimilar(norm, c.norm, threshold) {
				if evt.Score() > c.best.Score() {
					c.best = evt
				}
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, &cluster{norm: norm, best: evt})
		}
	}
	out := make([]models.ClassifiedOpportunity, len(clusters))
	for i, c := range clusters {
		out[i] = c.best
	}
	return out
}
