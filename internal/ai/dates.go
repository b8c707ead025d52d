package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DateExtraction is the model's answer to "which date does this page give".
type DateExtraction struct {
	Date       string
	Confidence string
	SourceText string
}

// Found reports whether a usable date was returned.
func (d *DateExtraction) Found() bool {
	return d != nil && d.Date != "" && d.Confidence != "none"
}

// ExtractDate asks the model for the deadline or event date stated in text.
// A nil result means no relevant date was found.
func (s *Service) ExtractDate(ctx context.Context, pageURL, text string) (*DateExtraction, error) {
	prompt := fmt.Sprintf("URL: %s\n\nTesto:\n%s", pageURL, text)
	resp, err := s.gen.Generate(ctx, Request{System: dateExtractionPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}
	return parseDateExtraction(resp)
}

func parseDateExtraction(resp string) (*DateExtraction, error) {
	payload, err := objectPayload(resp)
	if err != nil {
		return nil, err
	}
	if err := dateValidator.validate(payload); err != nil {
		return nil, err
	}

	var raw struct {
		Date       nullString `json:"date"`
		Confidence string     `json:"confidence"`
		SourceText nullString `json:"source_text"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse date extraction: %w", err)
	}

	d := &DateExtraction{
		Date:       strings.TrimSpace(raw.Date.String()),
		Confidence: raw.Confidence,
		SourceText: strings.TrimSpace(raw.SourceText.String()),
	}
	if !d.Found() {
		return nil, nil
	}
	return d, nil
}
