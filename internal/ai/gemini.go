package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiRESTBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient implements Generator for Google Gemini. Plain and JSON
// requests go through the genai SDK; grounded requests use the REST
// generateContent endpoint with the google_search tool, which the SDK does
// not expose.
type GeminiClient struct {
	client   *genai.Client
	model    string
	apiKey   string
	restBase string
	http     *http.Client
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:   client,
		model:    model,
		apiKey:   apiKey,
		restBase: geminiRESTBase,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if req.Grounded {
		text, err := c.generateGrounded(ctx, req)
		if err != nil {
			return "", err
		}
		return cleanJSONBlock(text), nil
	}

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(req.Temperature)
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", err
	}
	if req.JSON {
		return cleanJSONBlock(text), nil
	}
	return text, nil
}

type restPart struct {
	Text string `json:"text,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type restGenerationConfig struct {
	Temperature float32 `json:"temperature"`
}

type restGenerateRequest struct {
	SystemInstruction *restContent         `json:"system_instruction,omitempty"`
	Contents          []restContent        `json:"contents"`
	Tools             []restTool           `json:"tools"`
	GenerationConfig  restGenerationConfig `json:"generationConfig"`
}

type restGenerateResponse struct {
	Candidates []struct {
		Content restContent `json:"content"`
	} `json:"candidates"`
}

// generateGrounded calls generateContent with Google Search enabled. JSON
// mode cannot be combined with tools, so the caller parses the text.
func (c *GeminiClient) generateGrounded(ctx context.Context, req Request) (string, error) {
	body := restGenerateRequest{
		Contents:         []restContent{{Role: "user", Parts: []restPart{{Text: req.Prompt}}}},
		Tools:            []restTool{{GoogleSearch: &struct{}{}}},
		GenerationConfig: restGenerationConfig{Temperature: req.Temperature},
	}
	if req.System != "" {
		body.SystemInstruction = &restContent{Parts: []restPart{{Text: req.System}}}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal grounded request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.restBase, "/"), c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create grounded request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("grounded request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read grounded response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("grounded request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out restGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode grounded response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	var parts []string
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}

	return strings.Join(parts, ""), nil
}
