package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LinkKind selects the discovery prompt and the per-seed cap.
type LinkKind int

const (
	EventLinks LinkKind = iota
	TenderLinks
)

// MaxSelected is how many links the model may keep per seed page.
func (k LinkKind) MaxSelected() int {
	if k == TenderLinks {
		return 10
	}
	return 15
}

type ExtractedEvent struct {
	Title       nullString `json:"title"`
	Description nullString `json:"description"`
	EventDate   nullString `json:"event_date"`
	Location    nullString `json:"location"`
	URL         nullString `json:"url"`
}

type ExtractedTender struct {
	Title                nullString `json:"title"`
	Description          nullString `json:"description"`
	Deadline             nullString `json:"deadline"`
	ContractingAuthority nullString `json:"contracting_authority"`
	EstimatedValue       Amount     `json:"estimated_value"`
	Requirements         []string   `json:"requirements"`
	URL                  nullString `json:"url"`
}

type SearchHit struct {
	URL     nullString `json:"url"`
	Title   nullString `json:"title"`
	Snippet nullString `json:"snippet"`
	Type    nullString `json:"type"`
}

type SearchExtraction struct {
	Type                 nullString `json:"type"`
	Title                nullString `json:"title"`
	Description          nullString `json:"description"`
	Deadline             nullString `json:"deadline"`
	ContractingAuthority nullString `json:"contracting_authority"`
	EstimatedValue       Amount     `json:"estimated_value"`
	Location             nullString `json:"location"`
	Country              nullString `json:"country"`
}

// IsEvent reports whether the page was judged to describe an event.
func (e SearchExtraction) IsEvent() bool {
	return strings.EqualFold(e.Type.String(), "evento")
}

// SelectLinks asks the model which of the links found on seedURL point at
// individual relevant items.
func (s *Service) SelectLinks(ctx context.Context, kind LinkKind, seedURL string, links []string) ([]string, error) {
	if len(links) == 0 {
		return nil, nil
	}

	system := fmt.Sprintf(eventLinksPrompt, kind.MaxSelected())
	header := "Seed page URL"
	if kind == TenderLinks {
		system = fmt.Sprintf(tenderLinksPrompt, kind.MaxSelected())
		header = "Portale bandi seed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\nLista di %d URL trovati nella pagina:\n", header, seedURL, len(links))
	for _, l := range links {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}

	resp, err := s.gen.Generate(ctx, Request{System: system, Prompt: b.String(), JSON: true})
	if err != nil {
		return nil, err
	}
	payload, err := arrayPayload(resp, "links", "urls", "results")
	if err != nil {
		return nil, err
	}
	if err := linkSelectionValidator.validate(payload); err != nil {
		return nil, err
	}

	var selected []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &selected); err != nil {
		return nil, fmt.Errorf("failed to parse link selection: %w", err)
	}

	out := make([]string, 0, len(selected))
	for _, sel := range selected {
		if u := strings.TrimSpace(sel.URL); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

// ExtractEvents reads the events described on one page.
func (s *Service) ExtractEvents(ctx context.Context, pageURL, text string) ([]ExtractedEvent, error) {
	prompt := fmt.Sprintf("URL della pagina: %s\n\nTesto della pagina:\n%s", pageURL, text)
	resp, err := s.gen.Generate(ctx, Request{System: eventExtractionPrompt, Prompt: prompt, Temperature: 0.1, JSON: true})
	if err != nil {
		return nil, err
	}
	payload, err := arrayPayload(resp, "events")
	if err != nil {
		return nil, err
	}
	if err := eventsValidator.validate(payload); err != nil {
		return nil, err
	}

	var events []ExtractedEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}
	return events, nil
}

// ExtractTender reads a single tender from a page. links are the page's
// outbound links, offered so the model can point at the detail page. A nil
// result means the page holds no relevant tender.
func (s *Service) ExtractTender(ctx context.Context, pageURL, text string, links []string) (*ExtractedTender, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "URL della pagina: %s\n\nTesto della pagina:\n%s", pageURL, text)
	if len(links) > 0 {
		b.WriteString("\n\nLink trovati nella pagina (usa questi per il campo 'url'):\n")
		for _, l := range links {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	resp, err := s.gen.Generate(ctx, Request{System: tenderExtractionPrompt, Prompt: b.String(), JSON: true})
	if err != nil {
		return nil, err
	}
	payload, err := objectPayload(resp)
	if err != nil {
		return nil, err
	}
	if err := tenderValidator.validate(payload); err != nil {
		return nil, err
	}

	var t ExtractedTender
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tender: %w", err)
	}
	if t.Title == "" {
		return nil, nil
	}
	return &t, nil
}

// SearchWeb runs a search-grounded query and returns the candidate pages.
func (s *Service) SearchWeb(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	prompt := fmt.Sprintf("Cerca su Google: %s\n\nRestituisci i %d risultati più rilevanti come array JSON.", query, maxResults)
	resp, err := s.gen.Generate(ctx, Request{
		System:   fmt.Sprintf(searchPromptTemplate, maxResults),
		Prompt:   prompt,
		Grounded: true,
	})
	if err != nil {
		return nil, err
	}
	payload, err := arrayPayload(resp, "results")
	if err != nil {
		return nil, err
	}
	if err := searchHitsValidator.validate(payload); err != nil {
		return nil, err
	}

	var hits []SearchHit
	if err := json.Unmarshal(payload, &hits); err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return hits, nil
}

// ExtractSearchPage classifies and extracts a page found by SearchWeb. A nil
// result means the page is not relevant.
func (s *Service) ExtractSearchPage(ctx context.Context, pageURL, text string) (*SearchExtraction, error) {
	prompt := fmt.Sprintf("URL: %s\n\nTesto della pagina:\n%s", pageURL, text)
	resp, err := s.gen.Generate(ctx, Request{System: searchPageExtractionPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}
	payload, err := objectPayload(resp)
	if err != nil {
		return nil, err
	}
	if err := searchPageValidator.validate(payload); err != nil {
		return nil, err
	}

	var e SearchExtraction
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("failed to parse page extraction: %w", err)
	}
	if strings.EqualFold(e.Type.String(), "non_rilevante") || e.Title == "" {
		return nil, nil
	}
	return &e, nil
}
