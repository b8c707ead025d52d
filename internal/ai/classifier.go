package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/metrics"
	"github.com/david/opportunity-monitor/internal/models"
)

// Service wraps a Generator with the prompts and response contracts of the
// classification and extraction calls.
type Service struct {
	gen         Generator
	system      string
	temperature float32
	log         *zap.SugaredLogger
}

func NewService(gen Generator, companyProfile string, temperature float32) *Service {
	profile := strings.TrimSpace(companyProfile)
	if profile == "" {
		profile = "Non specificato."
	}
	return &Service{
		gen:         gen,
		system:      fmt.Sprintf(classificationPromptTemplate, profile),
		temperature: temperature,
		log:         zap.S().Named("classifier"),
	}
}

type rawClassification struct {
	RelevanceScore  float64    `json:"relevance_score"`
	Category        string     `json:"category"`
	Reason          string     `json:"reason"`
	KeyRequirements []string   `json:"key_requirements"`
	ExtractedDate   nullString `json:"extracted_date"`
	EventFormat     nullString `json:"event_format"`
	EventCost       nullString `json:"event_cost"`
	City            nullString `json:"city"`
	Sector          nullString `json:"sector"`
}

// Classify asks the model for a relevance judgment on one opportunity. A
// response that does not satisfy the classification contract is an error.
func (s *Service) Classify(ctx context.Context, opp models.Opportunity) (*models.Classification, error) {
	resp, err := s.gen.Generate(ctx, Request{
		System:      s.system,
		Prompt:      BuildClassificationPrompt(opp),
		Temperature: s.temperature,
		JSON:        true,
	})
	if err != nil {
		metrics.IncreaseClassificationCalls("error")
		return nil, err
	}

	c, err := parseClassification(resp)
	if err != nil {
		metrics.IncreaseClassificationCalls("invalid")
		return nil, err
	}
	metrics.IncreaseClassificationCalls("ok")
	return c, nil
}

func parseClassification(resp string) (*models.Classification, error) {
	payload, err := objectPayload(resp)
	if err != nil {
		return nil, err
	}
	if err := classificationValidator.validate(payload); err != nil {
		return nil, err
	}

	var raw rawClassification
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse classification json: %w", err)
	}

	return &models.Classification{
		RelevanceScore:  int(math.Round(raw.RelevanceScore)),
		Category:        canonicalCategory(raw.Category),
		Reason:          strings.TrimSpace(raw.Reason),
		KeyRequirements: nonEmpty(raw.KeyRequirements),
		ExtractedDate:   raw.ExtractedDate.String(),
		EventFormat:     models.EventFormat(matchAllowed(raw.EventFormat.String(), formats)),
		EventCost:       models.EventCost(matchAllowed(raw.EventCost.String(), costs)),
		City:            raw.City.String(),
		Sector:          raw.Sector.String(),
	}, nil
}

var formats = []string{string(models.FormatInPerson), string(models.FormatStreaming), string(models.FormatOnDemand)}

var costs = []string{string(models.CostFree), string(models.CostPaid), string(models.CostInviteOnly)}

func canonicalCategory(c string) models.Category {
	allowed := make([]string, 0, len(models.Categories))
	for _, cat := range models.Categories {
		allowed = append(allowed, string(cat))
	}
	if v := matchAllowed(c, allowed); v != "" {
		return models.Category(v)
	}
	return models.CategoryOther
}

// matchAllowed returns the canonical spelling of v, or "" when v is not one
// of the allowed values.
func matchAllowed(v string, allowed []string) string {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return a
		}
	}
	return ""
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// BuildClassificationPrompt renders the opportunity fields the model sees.
func BuildClassificationPrompt(opp models.Opportunity) string {
	var parts []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, fmt.Sprintf("**%s:** %s", label, value))
		}
	}

	parts = append(parts, fmt.Sprintf("**Title:** %s", opp.Title))
	add("Description", opp.Description)
	add("Contracting authority", opp.ContractingAuthority)
	add("Country", opp.Country)
	add("CPV codes", strings.Join(opp.CPVCodes, ", "))
	if opp.EstimatedValue != nil && *opp.EstimatedValue > 0 {
		add("Estimated value", fmt.Sprintf("%s %s", formatThousands(*opp.EstimatedValue), opp.Currency))
	}
	add("Deadline", models.DateKey(opp.Deadline))
	parts = append(parts, fmt.Sprintf("**Source:** %s", opp.Source))
	return strings.Join(parts, "\n")
}

// formatThousands renders 1234567.8 as "1,234,568".
func formatThousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
