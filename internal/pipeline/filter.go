package pipeline

import (
	"time"

	"github.com/david/opportunity-monitor/internal/models"
)

// Deduplicate keeps the first item for each normalized source URL, then for
// each normalized title. Input order is preserved.
func Deduplicate(opps []models.Opportunity) []models.Opportunity {
	seenURLs := make(map[string]struct{})
	seenTitles := make(map[string]struct{})
	out := make([]models.Opportunity, 0, len(opps))
	for _, o := range opps {
		urlKey := o.NormalizedURL()
		titleKey := o.NormalizedTitle()
		if urlKey != "" {
			if _, ok := seenURLs[urlKey]; ok {
				continue
			}
		}
		if _, ok := seenTitles[titleKey]; ok {
			continue
		}
		if urlKey != "" {
			seenURLs[urlKey] = struct{}{}
		}
		seenTitles[titleKey] = struct{}{}
		out = append(out, o)
	}
	return out
}

// ExcludeURLs drops items whose normalized source URL is in excluded and
// returns the kept items and the number removed.
func ExcludeURLs(opps []models.Opportunity, excluded map[string]struct{}) ([]models.Opportunity, int) {
	if len(excluded) == 0 {
		return opps, 0
	}
	out := make([]models.Opportunity, 0, len(opps))
	for _, o := range opps {
		if _, ok := excluded[o.NormalizedURL()]; ok {
			continue
		}
		out = append(out, o)
	}
	return out, len(opps) - len(out)
}

// ExcludedSet normalizes a list of URLs into a lookup set.
func ExcludedSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if key := models.NormalizeURLKey(u); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// FilterFuture is the pre-classification pass: events are always kept, other
// items are kept when their deadline is unknown or not before today.
func FilterFuture(opps []models.Opportunity, today time.Time) []models.Opportunity {
	today = models.Date(today)
	out := make([]models.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.IsEvent() || o.Deadline == nil || !o.Deadline.Before(today) {
			out = append(out, o)
		}
	}
	return out
}

// FilterPast is the post-enrichment pass: anything with a deadline before
// today is removed, events included.
func FilterPast(items []models.ClassifiedOpportunity, today time.Time) []models.ClassifiedOpportunity {
	today = models.Date(today)
	out := make([]models.ClassifiedOpportunity, 0, len(items))
	for _, item := range items {
		d := item.Opportunity.Deadline
		if d != nil && d.Before(today) {
			continue
		}
		out = append(out, item)
	}
	return out
}
