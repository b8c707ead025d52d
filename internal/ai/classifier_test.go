package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/opportunity-monitor/internal/models"
)

// stubGenerator returns canned responses in order and records requests.
type stubGenerator struct {
	responses []string
	err       error
	requests  []Request
}

func (s *stubGenerator) Generate(_ context.Context, req Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", ErrEmptyResponse
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *stubGenerator) Close() error { return nil }

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		wantErr  bool
		score    int
		category models.Category
	}{
		{
			name:     "plain object",
			resp:     `{"relevance_score": 8, "category": "SAP", "reason": "Migrazione S/4HANA"}`,
			score:    8,
			category: models.CategorySAP,
		},
		{
			name:     "fenced with prose",
			resp:     "```json\nEcco: {\"relevance_score\": 6.6, \"category\": \"cloud\", \"reason\": \"ok\"}\n```",
			score:    7,
			category: models.CategoryCloud,
		},
		{
			name:     "unknown category falls back to Other",
			resp:     `{"relevance_score": 3, "category": "Blockchain", "reason": "no"}`,
			score:    3,
			category: models.CategoryOther,
		},
		{
			name:    "score out of range",
			resp:    `{"relevance_score": 14, "category": "AI", "reason": "x"}`,
			wantErr: true,
		},
		{
			name:    "missing reason",
			resp:    `{"relevance_score": 5, "category": "AI"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			resp:    "non saprei",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseClassification(tt.resp)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.score, c.RelevanceScore)
			assert.Equal(t, tt.category, c.Category)
		})
	}
}

func TestParseClassification_EventFields(t *testing.T) {
	resp := `{"relevance_score": 9, "category": "AI", "reason": "Summit AI",
		"key_requirements": ["GenAI", " ", "MLOps"], "extracted_date": "2026-11-20",
		"event_format": "in presenza", "event_cost": "Gratis", "city": "Milano", "sector": null}`

	c, err := parseClassification(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"GenAI", "MLOps"}, c.KeyRequirements)
	assert.Equal(t, "2026-11-20", c.ExtractedDate)
	assert.Equal(t, models.FormatInPerson, c.EventFormat)
	assert.Equal(t, models.EventCost(""), c.EventCost, "unknown cost labels are dropped")
	assert.Equal(t, "Milano", c.City)
	assert.Empty(t, c.Sector)
}

func TestValidationErrorListsFields(t *testing.T) {
	_, err := parseClassification(`{"relevance_score": 0, "category": "AI", "reason": "x"}`)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "classification", vErr.Schema)
	require.NotEmpty(t, vErr.Errors)
	assert.Equal(t, "relevance_score", vErr.Errors[0].Field)
}

func TestClassify_UsesProfileAndTemperature(t *testing.T) {
	gen := &stubGenerator{responses: []string{`{"relevance_score": 7, "category": "Data", "reason": "BI"}`}}
	svc := NewService(gen, "Consulenza SAP e dati", 0.2)

	deadline := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	value := 1250000.0
	opp := models.Opportunity{
		Title:          "Servizi di data platform",
		Description:    "Realizzazione data lake",
		EstimatedValue: &value,
		Currency:       "EUR",
		Deadline:       &deadline,
		Source:         models.SourceTED,
	}

	c, err := svc.Classify(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryData, c.Category)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.True(t, req.JSON)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Contains(t, req.System, "Consulenza SAP e dati")
	assert.Contains(t, req.Prompt, "**Estimated value:** 1,250,000 EUR")
	assert.Contains(t, req.Prompt, "**Deadline:** 2026-12-01")
}

func TestClassify_PropagatesGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("quota exceeded")}
	svc := NewService(gen, "", 0)

	_, err := svc.Classify(context.Background(), models.Opportunity{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, gen.requests[0].System, "Non specificato.")
}

func TestBuildClassificationPrompt_SkipsEmptyFields(t *testing.T) {
	p := BuildClassificationPrompt(models.Opportunity{Title: "Solo titolo", Source: models.SourceEvent})
	assert.Equal(t, "**Title:** Solo titolo\n**Source:** Event", p)
	assert.False(t, strings.Contains(p, "Estimated value"))
}

func TestFormatThousands(t *testing.T) {
	cases := map[float64]string{
		0:         "0",
		999:       "999",
		1000:      "1,000",
		1234567.8: "1,234,568",
		-45000:    "-45,000",
	}
	for in, want := range cases {
		if got := formatThousands(in); got != want {
			t.Errorf("formatThousands(%v) = %q, want %q", in, got, want)
		}
	}
}
