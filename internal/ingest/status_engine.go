package ingest

import (
	"strings"

	"github.com/david/opportunity-monitor/internal/models"
)

// OpenNoticeTypes are the eForms notice types that are still calls for
// competition. Everything else (can-*, veat, compl, can-modif) is a result.
var OpenNoticeTypes = []string{
	"cn-standard",
	"cn-social",
	"cn-desg",
	"pin-cfc-standard",
	"pin-cfc-social",
}

// closedKeywords are matched against notice type and title, never the URL.
var closedKeywords = []string{
	"result",
	"award",
	"awarded",
	"winner",
	"aggiudicazione",
	"esito",
	"modification",
	"completion",
	"voluntary ex-ante",
	"veat",
}

var contestKeywords = []string{"design contest", "concorso", "contest", "competition"}

// StatusDecision explains why a notice was kept or dropped.
type StatusDecision struct {
	Closed bool
	Reason string
}

// ComputeStatusDecision reports whether a notice is a result or award rather
// than an open opportunity. A notice type outside the open list wins over
// the keyword check.
func ComputeStatusDecision(noticeType, title string) StatusDecision {
	nt := strings.ToLower(strings.TrimSpace(noticeType))
	if nt != "" && !isOpenNoticeType(nt) {
		return StatusDecision{Closed: true, Reason: "notice_type_" + nt}
	}

	blob := strings.ToLower(nt + " " + title)
	for _, kw := range closedKeywords {
		if strings.Contains(blob, kw) {
			return StatusDecision{Closed: true, Reason: "keyword_" + kw}
		}
	}
	return StatusDecision{Reason: "open"}
}

func isOpenNoticeType(nt string) bool {
	for _, open := range OpenNoticeTypes {
		if nt == open {
			return true
		}
	}
	return false
}

// DetectOpportunityType distinguishes design contests from ordinary tenders.
func DetectOpportunityType(noticeType, title string) models.OpportunityType {
	nt := strings.ToLower(noticeType)
	t := strings.ToLower(title)
	if nt == "cn-desg" {
		return models.TypeContest
	}
	for _, kw := range contestKeywords {
		if strings.Contains(nt, kw) || strings.Contains(t, kw) {
			return models.TypeContest
		}
	}
	return models.TypeTender
}
