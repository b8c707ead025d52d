package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/opportunity-monitor/internal/models"
)

func TestNormalizeEventTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AI WEEK 2026", "ai week"},
		{"AI WEEK – 7th Edition", "ai week"},
		{"Forum PA 2026 - XII edizione", "forum pa"},
		{"SAP Now Italia, 3a edizione", "sap now italia"},
		{"Cloud Summit II", "cloud summit"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeEventTitle(tc.in))
		})
	}
}

func TestTitlesSimilar(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"ai week", "ai week", true},
		{"data summit milano", "data summit milano tech", true},
		{"cloud conference rome", "cloud conference", true},
		{"ai", "ai", true},
		{"ai", "ai forum", false},
		{"big data expo", "smart city expo", false},
		{"", "ai week", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TitlesSimilar(tc.a, tc.b, DefaultSimilarityThreshold), "%q vs %q", tc.a, tc.b)
	}

	// Token overlap only: no containment either way.
	assert.True(t, TitlesSimilar("cloud native conference rome", "rome cloud conference", 1.0))
	assert.False(t, TitlesSimilar("cloud native conference rome", "rome cloud conference", 1.01))
}

func TestDedupEventsKeepsBestScoredOfCluster(t *testing.T) {
	date := day(2026, 5, 20)
	items := []models.ClassifiedOpportunity{
		scored(event("low", "AI WEEK 2026", date), 6),
		scored(tender("tender", "Gara cloud", "u", date), 3),
		scored(event("high", "AI WEEK – 7th Edition", date), 8),
		scored(event("other", "Smart Manufacturing Expo", date), 4),
	}

	out := DedupEvents(items, DefaultSimilarityThreshold)
	assert.Equal(t, []string{"tender", "high", "other"}, ids(out))
}

func TestDedupEventsDifferentDatesAreKept(t *testing.T) {
	items := []models.ClassifiedOpportunity{
		scored(event("a", "AI WEEK 2026", day(2026, 5, 20)), 6),
		scored(event("b", "AI WEEK 2026", day(2026, 5, 21)), 8),
	}
	assert.Equal(t, []string{"a", "b"}, ids(DedupEvents(items, DefaultSimilarityThreshold)))
}

func TestDedupEventsUndated(t *testing.T) {
	items := []models.ClassifiedOpportunity{
		scored(event("dated", "Forum Digitale PA 2026", day(2026, 6, 1)), 7),
		scored(event("undated-dup", "Forum Digitale PA", nil), 9),
		scored(event("undated-new", "Kubernetes Community Day", nil), 5),
		scored(event("undated-new-dup", "Kubernetes Community Day 2026", nil), 5),
	}
	out := DedupEvents(items, DefaultSimilarityThreshold)
	assert.Equal(t, []string{"dated", "undated-new"}, ids(out))
}

func TestDedupEventsSingleEventUntouched(t *testing.T) {
	items := []models.ClassifiedOpportunity{
		scored(tender("t", "Gara", "u", nil), 5),
		scored(event("e", "Evento", nil), 5),
	}
	assert.Equal(t, items, DedupEvents(items, 0))
}
