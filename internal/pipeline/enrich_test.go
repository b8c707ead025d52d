package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/models"
)

const noticeXML = `<ContractNotice>
  <cac:TenderingProcess>
    <cac:TenderSubmissionDeadlinePeriod>
      <cbc:EndDate>2026-04-20+02:00</cbc:EndDate>
      <cbc:EndTime>12:00:00+02:00</cbc:EndTime>
    </cac:TenderSubmissionDeadlinePeriod>
  </cac:TenderingProcess>
</ContractNotice>`

func TestTEDDeadline(t *testing.T) {
	assert.Equal(t, "2026-04-20", models.DateKey(tedDeadline(noticeXML)))

	restricted := `<cac:ParticipationRequestReceptionPeriod>
	<cbc:EndDate>2026-05-02Z</cbc:EndDate></cac:ParticipationRequestReceptionPeriod>`
	assert.Equal(t, "2026-05-02", models.DateKey(tedDeadline(restricted)))

	assert.Nil(t, tedDeadline("<ContractNotice/>"))
}

func TestDateEnricher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/notice/94915-2026/xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(noticeXML))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script>var x = 1;</script><h1>Convegno sul cloud</h1>
			<p>Le iscrizioni chiudono il 15 aprile, affrettatevi a registrarvi.</p></body></html>`))
	})
	mux.HandleFunc("/vague", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Questa pagina descrive un evento senza indicare alcuna data precisa.</p></body></html>`))
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>ok</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	settings := testSettings(t)
	settings.Enricher.TEDXMLURL = srv.URL + "/notice/%s/xml"

	dates := &fakeDates{answer: map[string]*ai.DateExtraction{
		srv.URL + "/page":  {Date: "15/04/2026", Confidence: "high"},
		srv.URL + "/vague": {Date: "2026-01-01", Confidence: "none"},
	}}

	items := []models.ClassifiedOpportunity{
		scored(tender("ted", "Gara TED", "https://ted.europa.eu/udl?uri=TED:NOTICE:94915-2026:DATA:EN:HTML", nil), 7),
		scored(event("page", "Convegno", nil), 6),
		scored(event("vague", "Evento vago", nil), 6),
		scored(tender("missing", "Pagina rimossa", srv.URL+"/gone", nil), 5),
		scored(tender("short", "Pagina vuota", srv.URL+"/short", nil), 5),
		scored(tender("dated", "Con data", srv.URL+"/page", day(2026, 7, 1)), 5),
		scored(tender("nolink", "Senza link", "", nil), 5),
	}
	items[1].Opportunity.SourceURL = srv.URL + "/page"
	items[2].Opportunity.SourceURL = srv.URL + "/vague"

	require.Equal(t, 5, MissingDates(items))

	rep := newRecordingReporter()
	patched, err := NewDateEnricher(settings, dates).Enrich(context.Background(), items, rep)
	require.NoError(t, err)
	assert.Equal(t, 2, patched)

	assert.Equal(t, "2026-04-20", models.DateKey(items[0].Opportunity.Deadline))
	assert.Equal(t, "2026-04-15", models.DateKey(items[1].Opportunity.Deadline))
	assert.Nil(t, items[2].Opportunity.Deadline)
	assert.Nil(t, items[3].Opportunity.Deadline)
	assert.Nil(t, items[4].Opportunity.Deadline)
	assert.Equal(t, "2026-07-01", models.DateKey(items[5].Opportunity.Deadline))
	assert.Len(t, rep.items, 5)

	assert.NotContains(t, dates.texts[srv.URL+"/page"], "var x")
	assert.Contains(t, dates.texts[srv.URL+"/page"], "15 aprile")
	_, askedShort := dates.texts[srv.URL+"/short"]
	assert.False(t, askedShort)
}

func TestDateEnricherNothingMissing(t *testing.T) {
	items := []models.ClassifiedOpportunity{scored(tender("a", "A", "https://x.example", day(2026, 4, 1)), 5)}
	patched, err := NewDateEnricher(testSettings(t), &fakeDates{}).Enrich(context.Background(), items, NopReporter{})
	require.NoError(t, err)
	assert.Zero(t, patched)
}
