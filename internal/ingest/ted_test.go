package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/models"
)

func newTestTEDCollector(t *testing.T, searchURL string) *TEDCollector {
	t.Helper()
	s := testSettings(t)
	s.CPVCodes = []string{"72", "48"}
	s.Countries = []string{"IT", "fr"}
	s.LookbackDays = 7
	s.Collectors.TED.SearchURL = searchURL
	s.Collectors.TED.PageSize = 2

	c := NewTEDCollector(s)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestTEDBuildQuery(t *testing.T) {
	c := newTestTEDCollector(t, "http://unused")

	q := c.BuildQuery()
	assert.Equal(t,
		"(notice-type = cn-standard OR notice-type = cn-social OR notice-type = cn-desg OR "+
			"notice-type = pin-cfc-standard OR notice-type = pin-cfc-social) AND "+
			"(PC = 72* OR PC = 48*) AND (buyer-country = ITA OR buyer-country = FRA) AND PD >= 20260303",
		q)
}

var tedPages = map[int]string{
	1: `{"totalNoticeCount": 3, "notices": [
		{"publication-number": "150123-2026",
		 "notice-title": {"ita": "Servizi SAP S/4HANA", "eng": "SAP S/4HANA services"},
		 "description-lot": {"eng": ["Migration of the ERP landscape"]},
		 "buyer-name": {"ita": ["Comune di Roma"]},
		 "buyer-country": ["ITA"],
		 "deadline-receipt-tender-date-lot": ["2026-04-30+02:00"],
		 "estimated-value-lot": [1250000.5],
		 "classification-cpv": ["72000000", "72000000", "48000000"],
		 "notice-type": "cn-standard",
		 "dispatch-date": "2026-03-05Z"},
		{"publication-number": "150124-2026",
		 "notice-title": {"eng": "Contract award: data platform"},
		 "notice-type": "can-standard"}
	]}`,
	2: `{"totalNoticeCount": 3, "notices": [
		{"publication-number": "150200-2026",
		 "notice-title": {"ita": "Concorso di progettazione portale dati"},
		 "buyer-name": {"ita": "Regione Lazio"},
		 "notice-type": "cn-desg",
		 "estimated-value-proc": "80,000"}
	]}`,
}

func TestTEDCollect(t *testing.T) {
	var mu sync.Mutex
	var requests []tedSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req tedSearchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tedPages[req.Page]))
	}))
	defer srv.Close()

	c := newTestTEDCollector(t, srv.URL)
	rec := newRecordDone(1)
	opps, err := c.Collect(context.Background(), rec.done)
	require.NoError(t, err)
	assert.Equal(t, []string{"TED: 2 bandi"}, rec.all())

	require.Len(t, requests, 2)
	assert.Equal(t, "PAGE_NUMBER", requests[0].PaginationMode)
	assert.Equal(t, 2, requests[0].Limit)
	assert.Equal(t, 2, requests[1].Page)

	require.Len(t, opps, 2)
	first := opps[0]
	assert.Equal(t, "TED-150123-2026", first.ID)
	assert.Equal(t, "SAP S/4HANA services", first.Title)
	assert.Equal(t, "Migration of the ERP landscape", first.Description)
	assert.Equal(t, "Comune di Roma", first.ContractingAuthority)
	assert.Equal(t, "ITA", first.Country)
	assert.Equal(t, "2026-04-30", models.DateKey(first.Deadline))
	assert.Equal(t, "2026-03-05", models.DateKey(first.PublicationDate))
	require.NotNil(t, first.EstimatedValue)
	assert.InDelta(t, 1250000.5, *first.EstimatedValue, 0.001)
	assert.Equal(t, []string{"72000000", "48000000"}, first.CPVCodes)
	assert.Equal(t, models.TypeTender, first.Type)
	assert.Contains(t, first.SourceURL, "TED:NOTICE:150123-2026")

	contest := opps[1]
	assert.Equal(t, models.TypeContest, contest.Type)
	assert.Equal(t, "Regione Lazio", contest.ContractingAuthority)
	require.NotNil(t, contest.EstimatedValue)
	assert.InDelta(t, 80000, *contest.EstimatedValue, 0.001)
	assert.Nil(t, contest.Deadline)
}

func TestTEDNormalizeLanguageFallbackAndMissingNumber(t *testing.T) {
	var notices []tedNotice
	require.NoError(t, json.Unmarshal([]byte(`[
		{"publication-number": "160001-2026",
		 "notice-title": {"fra": "Services informatiques", "deu": "IT-Dienstleistungen", "spa": "Servicios TI"},
		 "buyer-name": {"fra": [""], "pol": ["Gmina Kraków"]},
		 "notice-type": "cn-standard"},
		{"notice-title": {"eng": "Cloud hosting"}, "notice-type": "cn-standard"},
		{"publication-number": "", "notice-title": {"eng": "Data platform"}, "notice-type": "cn-standard"}
	]`), &notices))

	c := newTestTEDCollector(t, "http://unused")
	for i := 0; i < 20; i++ {
		opps := c.normalize(notices)
		require.Len(t, opps, 1)
		assert.Equal(t, "TED-160001-2026", opps[0].ID)
		assert.Equal(t, "IT-Dienstleistungen", opps[0].Title)
		assert.Equal(t, "Gmina Kraków", opps[0].ContractingAuthority)
	}
}

func TestTEDCollectRespectsMaxResults(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(tedPages[1]))
	}))
	defer srv.Close()

	c := newTestTEDCollector(t, srv.URL)
	c.settings.MaxResults = 1
	opps, err := c.Collect(context.Background(), noopDone)
	require.NoError(t, err)
	assert.Len(t, opps, 1)
	assert.EqualValues(t, 1, hits.Load())
}

func TestTEDCollectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestTEDCollector(t, srv.URL)
	rec := newRecordDone(1)
	opps, err := c.Collect(context.Background(), rec.done)
	require.Error(t, err)
	assert.Empty(t, opps)
	assert.Equal(t, []string{"TED: errore"}, rec.all())
}
